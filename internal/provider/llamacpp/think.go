package llamacpp

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// thinkSplitter separates streamed model output into thinking and response
// text. Reasoning models emit "<think>...</think>" ahead of the answer, and
// the tags can arrive split across arbitrary delta boundaries, so the
// splitter withholds any tail that could still turn into a tag.
type thinkSplitter struct {
	pending  string
	started  bool // saw enough content to rule the opening tag in or out
	inThink  bool
	trimNext bool // drop leading whitespace of the next section
}

func newThinkSplitter() *thinkSplitter {
	return &thinkSplitter{trimNext: true}
}

// feed consumes one delta and returns the thinking and response text that
// can be released so far.
func (s *thinkSplitter) feed(delta string) (thinking, response string) {
	s.pending += delta

	for s.pending != "" {
		if !s.started {
			trimmed := strings.TrimLeft(s.pending, " \t\r\n")
			if trimmed == "" {
				s.pending = ""
				return
			}
			if strings.HasPrefix(trimmed, openTag) {
				s.started = true
				s.inThink = true
				s.trimNext = true
				s.pending = trimmed[len(openTag):]
				continue
			}
			if strings.HasPrefix(openTag, trimmed) {
				// Could still be a partial opening tag.
				s.pending = trimmed
				return
			}
			s.started = true
			s.inThink = false
			s.pending = trimmed
			continue
		}

		if s.inThink {
			if idx := strings.Index(s.pending, closeTag); idx >= 0 {
				thinking += s.release(s.pending[:idx])
				s.pending = s.pending[idx+len(closeTag):]
				s.inThink = false
				s.trimNext = true
				continue
			}
			hold := tagSuffixLen(s.pending, closeTag)
			thinking += s.release(s.pending[:len(s.pending)-hold])
			s.pending = s.pending[len(s.pending)-hold:]
			return
		}

		response += s.release(s.pending)
		s.pending = ""
	}
	return
}

// flush releases whatever is still withheld once the stream has ended.
func (s *thinkSplitter) flush() (thinking, response string) {
	rest := s.pending
	s.pending = ""
	if rest == "" {
		return
	}
	if s.inThink || (!s.started && strings.HasPrefix(openTag, rest)) {
		return s.release(rest), ""
	}
	return "", s.release(rest)
}

func (s *thinkSplitter) release(text string) string {
	if text == "" {
		return ""
	}
	if s.trimNext {
		text = strings.TrimLeft(text, " \t\r\n")
		if text == "" {
			return ""
		}
		s.trimNext = false
	}
	return text
}

// tagSuffixLen returns the length of the longest suffix of s that is a
// proper prefix of tag.
func tagSuffixLen(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
