package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdr-docgen/internal/models"
)

func lenCounter(s string) (int, error) { return len(s), nil }

func brokenCounter(string) (int, error) { return 0, errors.New("no tokenizer") }

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := New()
		assert.Equal(t, DefaultChunkSize, c.ChunkSize())
		assert.Equal(t, DefaultChunkOverlap, c.Overlap())
	})

	t.Run("overlap not smaller than size is reduced", func(t *testing.T) {
		c := New(WithChunkSize(100), WithOverlap(200))
		assert.Equal(t, 25, c.Overlap())
	})

	t.Run("invalid values ignored", func(t *testing.T) {
		c := New(WithChunkSize(0), WithOverlap(-1))
		assert.Equal(t, DefaultChunkSize, c.ChunkSize())
		assert.Equal(t, DefaultChunkOverlap, c.Overlap())
	})
}

func TestChunkText_Empty(t *testing.T) {
	c := New(WithTokenCounter(lenCounter))
	assert.Empty(t, c.ChunkText("", models.ChunkMetadata{FileID: "f1"}))
	assert.Empty(t, c.SplitText(""))
}

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	c := New(WithTokenCounter(lenCounter))
	text := "The device is a single-use catheter."

	chunks := c.ChunkWithContext(text, "f1", "ifu.pdf", "intended_use")
	require.Len(t, chunks, 1)

	ch := chunks[0]
	assert.Equal(t, "f1_0", ch.ID)
	assert.Equal(t, text, ch.Text)
	assert.Equal(t, 0, ch.Index)
	assert.Equal(t, 0, ch.Offset)
	assert.Equal(t, len(text), ch.CharCount)
	assert.Equal(t, 6, ch.WordCount)
	assert.Equal(t, models.ChunkMetadata{
		FileID:     "f1",
		Filename:   "ifu.pdf",
		Category:   "intended_use",
		ChunkIndex: 0,
	}, ch.Metadata)
}

func TestChunkText_MissingFileID(t *testing.T) {
	c := New(WithTokenCounter(lenCounter))
	chunks := c.ChunkText("some text", models.ChunkMetadata{})
	require.Len(t, chunks, 1)
	assert.Equal(t, "unknown_0", chunks[0].ID)
}

func TestChunkText_TwoThousandChars(t *testing.T) {
	c := New(WithTokenCounter(lenCounter))
	text := strings.Repeat("word ", 400)
	require.Len(t, text, 2000)

	chunks := c.ChunkWithContext(text, "f1", "a.txt", "other")
	require.GreaterOrEqual(t, len(chunks), 1)
	require.LessOrEqual(t, len(chunks), 2)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Metadata.ChunkIndex)
		assert.Equal(t, i, ch.Index)
	}
}

func TestChunkText_PrefersParagraphBreaks(t *testing.T) {
	c := New(WithChunkSize(4), WithOverlap(0), WithTokenCounter(lenCounter))
	chunks := c.SplitText("para one.\n\npara two.")
	assert.Equal(t, []string{"para one.", "para two."}, chunks)
}

func TestChunkText_TrimsAndLocatesChunks(t *testing.T) {
	c := New(WithChunkSize(8), WithOverlap(0), WithTokenCounter(lenCounter))
	text := "  Über die Sterilität.\n\n\tZweiter Absatz hier.  "

	chunks := c.ChunkText(text, models.ChunkMetadata{FileID: "f"})
	require.Len(t, chunks, 2)
	assert.Equal(t, "Über die Sterilität.", chunks[0].Text)
	assert.Equal(t, 2, chunks[0].Offset)
	assert.Equal(t, 20, chunks[0].CharCount)
	assert.Equal(t, "Zweiter Absatz hier.", chunks[1].Text)
	assert.Equal(t, strings.Index(text, "Zweiter"), chunks[1].Offset)
}

func TestChunkText_CoverageAndBounds(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("Sterilization was validated per ISO 11135. ")
		if i%7 == 6 {
			sb.WriteString("\n\n")
		}
	}
	text := sb.String()

	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"small no overlap", 10, 0},
		{"small with overlap", 10, 2},
		{"medium", 50, 5},
		{"single chunk", 5000, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(WithChunkSize(tt.size), WithOverlap(tt.overlap), WithTokenCounter(lenCounter))
			chunks := c.ChunkText(text, models.ChunkMetadata{FileID: "f"})
			require.NotEmpty(t, chunks)

			assert.Equal(t, 0, chunks[0].Offset)
			end := 0
			for i, ch := range chunks {
				assert.Equal(t, text[ch.Offset:ch.Offset+len(ch.Text)], ch.Text)
				if ch.Offset > end {
					assert.Empty(t, strings.TrimSpace(text[end:ch.Offset]), "gap before chunk %d", i)
				}
				assert.LessOrEqual(t, ch.CharCount, tt.size*CharsPerToken)
				end = max(end, ch.Offset+len(ch.Text))
			}
			assert.Empty(t, strings.TrimSpace(text[end:]))
		})
	}
}

func TestChunkText_OverlapCarriesTail(t *testing.T) {
	c := New(WithChunkSize(10), WithOverlap(2), WithTokenCounter(lenCounter))
	text := strings.Repeat("abcd ", 30)

	chunks := c.ChunkText(text, models.ChunkMetadata{FileID: "f"})
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].Offset + len(chunks[i-1].Text)
		assert.Less(t, chunks[i].Offset, prevEnd, "chunk %d should overlap its predecessor", i)
	}
}

func TestChunkText_HardCutKeepsRunes(t *testing.T) {
	c := New(WithChunkSize(5), WithOverlap(0), WithTokenCounter(lenCounter))
	text := strings.Repeat("é", 50)

	chunks := c.ChunkText(text, models.ChunkMetadata{FileID: "f"})
	require.Len(t, chunks, 3)
	assert.Equal(t, 20, chunks[0].CharCount)
	assert.Equal(t, 20, chunks[1].CharCount)
	assert.Equal(t, 10, chunks[2].CharCount)
	for _, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Text))
	}
}

func TestCountTokens(t *testing.T) {
	text := "one two three four five six seven eight nine ten"

	t.Run("tokenizer", func(t *testing.T) {
		c := New(WithTokenCounter(lenCounter))
		n, exact := c.CountTokens(text)
		assert.True(t, exact)
		assert.Equal(t, len(text), n)
	})

	t.Run("fallback estimate", func(t *testing.T) {
		c := New(WithTokenCounter(brokenCounter))
		n, exact := c.CountTokens(text)
		assert.False(t, exact)
		assert.Equal(t, 13, n)
	})
}

func TestOptimalChunkCount(t *testing.T) {
	c := New(WithTokenCounter(func(string) (int, error) { return 1200, nil }))
	assert.Equal(t, 3, c.OptimalChunkCount("ignored"))

	c = New(WithTokenCounter(func(string) (int, error) { return 0, nil }))
	assert.Equal(t, 1, c.OptimalChunkCount(""))
}

func TestValidateChunks(t *testing.T) {
	c := New(WithChunkSize(10), WithTokenCounter(lenCounter))

	stats := c.ValidateChunks(nil)
	assert.False(t, stats.Valid)
	assert.Equal(t, "No chunks provided", stats.Error)

	stats = c.ValidateChunks([]models.Chunk{
		{Text: strings.Repeat("x", 20)},
		{Text: "xx"},
		{Text: strings.Repeat("x", 10)},
	})
	assert.True(t, stats.Valid)
	assert.Equal(t, 3, stats.ChunkCount)
	assert.Equal(t, 32, stats.TotalTokens)
	assert.InDelta(t, 32.0/3.0, stats.AvgTokensPerChunk, 1e-9)
	assert.Equal(t, 1, stats.OversizedChunks)
	assert.Equal(t, 1, stats.UndersizedChunks)
}

func TestChunkBySentences(t *testing.T) {
	got := ChunkBySentences("One. Two! Three? Four.", 2)
	assert.Equal(t, []string{"One. Two!", "Three? Four."}, got)

	got = ChunkBySentences("Only one sentence", 0)
	assert.Equal(t, []string{"Only one sentence"}, got)
}

func TestChunkByParagraphs(t *testing.T) {
	got := ChunkByParagraphs("a\n\nb\n\n\n\nc", 2)
	assert.Equal(t, []string{"a\n\nb", "c"}, got)
}

func TestMergeSmallChunks(t *testing.T) {
	assert.Nil(t, MergeSmallChunks(nil, 10))
	assert.Equal(t, []string{"aa bb", "cccc"}, MergeSmallChunks([]string{"aa", "bb", "cccc"}, 4))
}
