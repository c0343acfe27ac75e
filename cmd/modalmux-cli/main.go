// Command modalmux-cli is an interactive terminal client that drives the
// orchestrator in-process, without the HTTP server.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/modalmux/modalmux/internal/config"
	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/intent"
	"github.com/modalmux/modalmux/internal/orchestrator"
	"github.com/modalmux/modalmux/internal/provider/diffusion"
	"github.com/modalmux/modalmux/internal/provider/llamacpp"
	"github.com/modalmux/modalmux/internal/provider/vision"
	"github.com/modalmux/modalmux/internal/storage/memory"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	// Keep the transcript clean; only warnings and errors reach the screen.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	orch, err := buildOrchestrator(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}

	fmt.Println("modalmux interactive chat. /new starts a fresh conversation, /clear wipes it, /exit quits.")

	ctx := context.Background()
	var conversationID string

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return
		case line == "/new":
			conversationID = ""
			fmt.Println("started a new conversation")
			continue
		case line == "/clear":
			if conversationID == "" {
				fmt.Println("nothing to clear")
				continue
			}
			if err := orch.Clear(ctx, conversationID); err != nil {
				fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
				continue
			}
			fmt.Println("conversation cleared")
			continue
		}

		conversationID = runTurn(ctx, orch, conversationID, line)
	}
}

func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	text, err := llamacpp.New(llamacpp.Config{
		BaseURL:       cfg.Chat.BaseURL,
		Model:         cfg.Chat.Model,
		MaxTokens:     cfg.Chat.MaxTokens,
		ContextTokens: cfg.Chat.ContextTokens,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	vis, err := vision.New(vision.Config{
		BaseURL:   cfg.Vision.BaseURL,
		Model:     cfg.Vision.Model,
		UploadDir: cfg.Vision.UploadDir,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	gen, err := diffusion.New(diffusion.Config{
		BaseURL:   cfg.Image.BaseURL,
		OutputDir: cfg.Image.OutputDir,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Config{
		Store:          memory.New(),
		Text:           text,
		Vision:         vis,
		ImageGen:       gen,
		Classifier:     intent.New(cfg.Triggers()),
		Logger:         logger,
		EnableThinking: cfg.Chat.EnableThinking,
		ImageDefaults: orchestrator.ImageDefaults{
			Width:          cfg.Image.Width,
			Height:         cfg.Image.Height,
			Steps:          cfg.Image.Steps,
			NegativePrompt: cfg.Image.NegativePrompt,
		},
	}), nil
}

// runTurn streams one turn to the terminal and returns the conversation id
// the turn was recorded under.
func runTurn(ctx context.Context, orch *orchestrator.Orchestrator, conversationID, text string) string {
	events, err := orch.ProcessTurn(ctx, orchestrator.TurnRequest{
		ConversationID: conversationID,
		Text:           text,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return conversationID
	}

	inThinking := false
	for ev := range events {
		switch ev.Type {
		case domain.EventThinkingDelta:
			if !inThinking {
				fmt.Print("\x1b[2m[thinking] ")
				inThinking = true
			}
			fmt.Print(ev.Text)
		case domain.EventThinking:
			// Deltas already rendered the block; just close the dim span.
			if inThinking {
				fmt.Print("\x1b[0m\n")
				inThinking = false
			}
		case domain.EventResponseDelta:
			fmt.Print(ev.Text)
		case domain.EventProgress:
			fmt.Printf("\r生成中 %d/%d", ev.Step, ev.Total)
		case domain.EventImageGenerated:
			fmt.Printf("\r图片已保存: %s (seed %d)\n", ev.Filename, ev.Seed)
		case domain.EventDone:
			fmt.Println()
			conversationID = ev.ConversationID
		case domain.EventError:
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", ev.Err)
		}
	}
	return conversationID
}
