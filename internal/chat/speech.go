package chat

import (
	"regexp"
	"strings"
)

// sentenceEnd matches terminal punctuation followed by whitespace or the end of the
// buffer.
var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)`)

// splitSentences cuts every complete sentence off the front of buf and returns them
// with the unfinished remainder.
func splitSentences(buf string) (sentences []string, rest string) {
	for {
		loc := sentenceEnd.FindStringIndex(buf)
		if loc == nil {
			return sentences, buf
		}
		if s := strings.TrimSpace(buf[:loc[0]+1]); s != "" {
			sentences = append(sentences, s)
		}
		buf = buf[loc[1]:]
	}
}
