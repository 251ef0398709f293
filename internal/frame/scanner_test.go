package frame

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScannerSingleFrame(t *testing.T) {
	s := NewScanner()
	frames, err := s.Frames([]byte("<CMD><APIVERRESPONSE><VALUE>TRUE</VALUE></APIVERRESPONSE></CMD>"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "<APIVERRESPONSE><VALUE>TRUE</VALUE></APIVERRESPONSE>", frames[0])
	assert.Zero(t, s.Pending())
}

func TestScannerMultipleFramesOneChunk(t *testing.T) {
	s := NewScanner()
	frames, err := s.Frames([]byte("<CMD><A></CMD><CMD><B></CMD><CMD><C></CMD>"))
	require.NoError(t, err)
	assert.Equal(t, []string{"<A>", "<B>", "<C>"}, frames)
}

func TestScannerSplitAcrossChunks(t *testing.T) {
	s := NewScanner()

	frames, err := s.Frames([]byte("<CMD><ENTEREVENT><CALL>W1"))
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.NotZero(t, s.Pending())

	frames, err = s.Frames([]byte("AW</CALL></ENTEREVENT></CM"))
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = s.Frames([]byte("D>"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "<ENTEREVENT><CALL>W1AW</CALL></ENTEREVENT>", frames[0])
}

func TestScannerSkipsLeadingGarbage(t *testing.T) {
	s := NewScanner()
	frames, err := s.Frames([]byte("noise\r\n<CMD><A></CMD>trailing"))
	require.NoError(t, err)
	assert.Equal(t, []string{"<A>"}, frames)

	// Trailing garbage without a start tag must not accumulate.
	frames, err = s.Frames([]byte(strings.Repeat("x", 1024)))
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Less(t, s.Pending(), len(openTag))
}

// Every possible byte-level fragmentation of a frame sequence must yield the
// same frames as feeding it whole.
func TestScannerFragmentationInvariant(t *testing.T) {
	stream := "<CMD><APIVERRESPONSE><VALUE>TRUE</VALUE></APIVERRESPONSE></CMD>" +
		"junk<CMD><OPINFORESPONSE><GRID>FN31pr</GRID></OPINFORESPONSE></CMD>" +
		"<CMD><ENTEREVENT><CALL>W1AW</CALL><BAND>20</BAND></ENTEREVENT></CMD>"

	whole := NewScanner()
	want, err := whole.Frames([]byte(stream))
	require.NoError(t, err)
	require.Len(t, want, 3)

	for split := 1; split < len(stream); split++ {
		s := NewScanner()
		var got []string

		frames, err := s.Frames([]byte(stream[:split]))
		require.NoError(t, err)
		got = append(got, frames...)

		frames, err = s.Frames([]byte(stream[split:]))
		require.NoError(t, err)
		got = append(got, frames...)

		assert.Equalf(t, want, got, "split at byte %d", split)
	}
}

func TestScannerOverflow(t *testing.T) {
	s := NewScannerSize(128)

	// An open tag with no close grows past the bound.
	_, err := s.Frames([]byte("<CMD>" + strings.Repeat("a", 200)))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Zero(t, s.Pending())

	// The scanner remains usable after an overflow.
	frames, err := s.Frames([]byte("<CMD><A></CMD>"))
	require.NoError(t, err)
	assert.Equal(t, []string{"<A>"}, frames)
}

func TestScannerReset(t *testing.T) {
	s := NewScanner()
	_, err := s.Frames([]byte("<CMD><PARTIAL>"))
	require.NoError(t, err)
	require.NotZero(t, s.Pending())

	s.Reset()
	assert.Zero(t, s.Pending())

	// A new epoch must not see the old partial frame.
	frames, err := s.Frames([]byte("<CMD><B></CMD>"))
	require.NoError(t, err)
	assert.Equal(t, []string{"<B>"}, frames)
}

func TestTag(t *testing.T) {
	rec := "<ENTEREVENT><CALL>w1aw</CALL><Band>20</Band></ENTEREVENT>"

	v, ok := Tag(rec, "CALL")
	require.True(t, ok)
	assert.Equal(t, "w1aw", v)

	v, ok = Tag(rec, "band")
	require.True(t, ok)
	assert.Equal(t, "20", v)

	_, ok = Tag(rec, "MODE")
	assert.False(t, ok)
}

func TestFirstTag(t *testing.T) {
	rec := "<OPINFORESPONSE><LAT>41.7</LAT><LONG>72.7</LONG></OPINFORESPONSE>"

	v, ok := FirstTag(rec, "LON", "LONG")
	require.True(t, ok)
	assert.Equal(t, "72.7", v)

	_, ok = FirstTag(rec, "GRID", "SQUARE")
	assert.False(t, ok)
}

func TestCommandOf(t *testing.T) {
	cmd, ok := CommandOf("<ENTEREVENT><CALL>W1AW</CALL></ENTEREVENT>")
	require.True(t, ok)
	assert.Equal(t, "ENTEREVENT", cmd)

	_, ok = CommandOf("no tags here")
	assert.False(t, ok)
}
