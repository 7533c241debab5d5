package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortInputSingleChunk(t *testing.T) {
	chunks := SplitText("hello", 100, 10)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello", chunks[0])
}

func TestSplitTextOverlapPreservesBoundaries(t *testing.T) {
	text := strings.Repeat("a", 25)
	chunks := SplitText(text, 10, 3)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 10)
	}
	// Step is chunkSize - overlap, so consecutive chunks share content.
	assert.Equal(t, 10, len(chunks[0]))
	assert.Equal(t, 10, len(chunks[1]))
}

func TestSplitTextCoversWholeInput(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog, twice."
	chunks := SplitText(text, 16, 4)

	var rebuilt strings.Builder
	step := 16 - 4
	for i, c := range chunks {
		if i == len(chunks)-1 {
			rebuilt.WriteString(c)
			break
		}
		rebuilt.WriteString(c[:step])
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestSplitTextDegenerateOverlap(t *testing.T) {
	// overlap >= chunkSize must still terminate.
	chunks := SplitText(strings.Repeat("b", 30), 10, 10)
	require.NotEmpty(t, chunks)
}
