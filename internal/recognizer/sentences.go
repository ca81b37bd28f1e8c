package recognizer

import (
	"strings"
	"sync"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	log "github.com/sirupsen/logrus"
)

var (
	tokenizerOnce sync.Once
	tokenizer     *sentences.DefaultSentenceTokenizer
)

func sentenceTokenizer() *sentences.DefaultSentenceTokenizer {
	tokenizerOnce.Do(func() {
		t, err := english.NewSentenceTokenizer(nil)
		if err != nil {
			log.WithError(err).Warn("Sentence tokenizer unavailable, utterances will not be split")
			return
		}
		tokenizer = t
	})
	return tokenizer
}

// SplitUtterances cuts a block of text into sentence-sized utterances.
func SplitUtterances(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	tok := sentenceTokenizer()
	if tok == nil {
		return []string{text}
	}
	var out []string
	for _, s := range tok.Tokenize(text) {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// splitComplete returns the sentences of buf that are certainly finished and
// the unfinished remainder, for text that is still streaming in.
func splitComplete(buf string) ([]string, string) {
	parts := SplitUtterances(buf)
	if len(parts) <= 1 {
		return nil, buf
	}
	last := parts[len(parts)-1]
	rest := buf
	if i := strings.LastIndex(buf, last); i >= 0 {
		rest = buf[i:]
	}
	return parts[:len(parts)-1], rest
}
