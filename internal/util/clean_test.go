package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanTranscriptText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"bom and spacing", "\xEF\xBB\xBF  hello \n\n world\t", "hello world"},
		{"nbsp and zero width", "a\u00a0b\u200bc", "a bc"},
		{"control chars", "a\x00b\x07c", "abc"},
		{"invalid utf8", "ok\xff", "ok\uFFFD"},
		{"cjk kept", "你好 世界", "你好 世界"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanTranscriptText(tt.in))
		})
	}
}
