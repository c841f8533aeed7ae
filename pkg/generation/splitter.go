package generation

import "strings"

// sentenceSplitter accumulates streamed text and yields complete
// sentences as soon as their terminal punctuation is followed by
// whitespace. A period inside a number or abbreviation with no space
// after it stays buffered.
type sentenceSplitter struct {
	buf strings.Builder
}

func isTerminal(r byte) bool {
	return r == '.' || r == '!' || r == '?'
}

// Push appends streamed text and returns any sentences completed by it.
func (s *sentenceSplitter) Push(text string) []string {
	s.buf.WriteString(text)
	pending := s.buf.String()

	var out []string
	start := 0
	for i := 0; i < len(pending)-1; i++ {
		if !isTerminal(pending[i]) {
			continue
		}
		// Swallow runs like "?!" or "...".
		j := i
		for j+1 < len(pending) && isTerminal(pending[j+1]) {
			j++
		}
		if j+1 >= len(pending) || (pending[j+1] != ' ' && pending[j+1] != '\n' && pending[j+1] != '\t') {
			i = j
			continue
		}
		sentence := strings.TrimSpace(pending[start : j+1])
		if sentence != "" {
			out = append(out, sentence)
		}
		start = j + 1
		i = j
	}
	if start > 0 {
		rest := pending[start:]
		s.buf.Reset()
		s.buf.WriteString(rest)
	}
	return out
}

// Flush returns whatever is buffered, trimmed, and resets the splitter.
func (s *sentenceSplitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}
