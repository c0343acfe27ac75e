package orchestrator

import "fmt"

// Captions for image generation turns. These keep image turns visually
// consistent with text turns: the assistant always says something alongside
// the picture.

func captionDrawing(prompt string) string {
	return fmt.Sprintf("好的，正在为你绘制: %s 🎨", prompt)
}

func captionDone() string {
	return "画好了！希望你喜欢这幅作品~"
}
