package chunker

import (
	"strings"

	"policyrag/internal/domain"
)

// ParagraphChunker emits one chunk per run of non-blank lines.
type ParagraphChunker struct{}

func NewParagraphChunker() *ParagraphChunker { return &ParagraphChunker{} }

func (c *ParagraphChunker) Chunk(document domain.Document) ([]domain.Document, error) {
	var (
		chunks  []domain.Document
		current []string
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, chunkOf(document, strings.Join(current, "\n"), len(chunks)))
		current = current[:0]
	}
	for _, line := range strings.Split(document.Content, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, strings.TrimRight(line, "\r"))
	}
	flush()
	return chunks, nil
}
