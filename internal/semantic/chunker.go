package semantic

import "strings"

// Chunker splits document text into overlapping chunks for embedding.
// Paragraph boundaries are preferred; paragraphs larger than the chunk
// size are hard-split with a trailing overlap carried into the next
// chunk so retrieval doesn't lose context at cut points.
type Chunker struct {
	Size    int
	Overlap int
}

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// NewChunker creates a chunker; non-positive values take the defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split breaks text into chunk strings. Whitespace-only input yields nil.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > c.Size {
			flush()
			chunks = append(chunks, c.hardSplit(para)...)
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > c.Size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// hardSplit cuts an oversized block at the chunk size, preferring to
// break at a space near the cut and overlapping consecutive pieces.
func (c *Chunker) hardSplit(block string) []string {
	var chunks []string
	step := c.Size - c.Overlap

	start := 0
	for start < len(block) {
		end := start + c.Size
		if end >= len(block) {
			chunks = append(chunks, strings.TrimSpace(block[start:]))
			break
		}

		cut := end
		if idx := strings.LastIndexByte(block[start:end], ' '); idx > step/2 {
			cut = start + idx
		}
		chunks = append(chunks, strings.TrimSpace(block[start:cut]))

		next := cut - c.Overlap
		if next <= start {
			next = start + step
		}
		start = next
	}
	return chunks
}
