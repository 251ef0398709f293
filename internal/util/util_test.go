package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalStation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "Run 1", "RUN 1"},
		{"lowercase", "run 1", "RUN 1"},
		{"leading/trailing whitespace", "  Run 1  ", "RUN 1"},
		{"internal whitespace collapsed", "Run    1", "RUN 1"},
		{"tabs", "Run\t1", "RUN 1"},
		{"empty", "", ""},
		{"only whitespace", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalStation(tt.input))
		})
	}
}

func TestCanonicalCall(t *testing.T) {
	assert.Equal(t, "W1AW", CanonicalCall(" w1aw "))
	assert.Equal(t, "EA8/K1ABC", CanonicalCall("ea8/k1abc"))
}

func TestCanonicalMode(t *testing.T) {
	assert.Equal(t, "CW", CanonicalMode("cw"))
	assert.Equal(t, "PH", CanonicalMode(" Ph "))
}

func TestSplitCSVSet(t *testing.T) {
	set := SplitCSVSet("20, 40 ,80,,", nil)
	assert.Len(t, set, 3)
	assert.Contains(t, set, "20")
	assert.Contains(t, set, "40")
	assert.Contains(t, set, "80")

	modes := SplitCSVSet("cw,ph", CanonicalMode)
	assert.Contains(t, modes, "CW")
	assert.Contains(t, modes, "PH")

	assert.Empty(t, SplitCSVSet("", nil))
}
