// Package util holds small text helpers.
package util

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Characters providers emit that read badly in a plain TXT transcript.
var charReplacementMap = map[string]string{
	"\u00a0": " ", "\u2009": " ", "\u202f": " ", "\u200b": "",
	"\ufeff": "", "\u3000": " ", "\u2028": " ",
}

// CleanTranscriptText strips a BOM, repairs invalid UTF-8, removes control
// characters and collapses runs of whitespace into single spaces.
func CleanTranscriptText(raw string) string {
	b := bytes.TrimPrefix([]byte(raw), utf8BOM)
	if !utf8.Valid(b) {
		log.Warn("Transcript text is not valid UTF-8, replacing invalid bytes")
		b = bytes.ToValidUTF8(b, []byte(string(utf8.RuneError)))
	}

	str := string(b)
	for bad, good := range charReplacementMap {
		str = strings.ReplaceAll(str, bad, good)
	}
	str = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, str)
	return strings.Join(strings.Fields(str), " ")
}
