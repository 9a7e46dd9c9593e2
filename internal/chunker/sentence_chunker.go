package chunker

import (
	"strconv"
	"strings"

	"policyrag/internal/domain"
	"policyrag/internal/summarizer"
)

// SentenceChunker groups sentences into windows of a fixed size that share
// overlapSentences with the previous window.
type SentenceChunker struct {
	size    int
	overlap int
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	overlapSentences = max(0, min(overlapSentences, sentencesPerChunk-1))
	return &SentenceChunker{size: sentencesPerChunk, overlap: overlapSentences}
}

// Chunk splits the document with summarizer.SplitSentences, so policy list
// items without closing punctuation count as sentences.
func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Document, error) {
	sentences := summarizer.SplitSentences(document.Content)
	if len(sentences) == 0 {
		return nil, nil
	}
	var chunks []domain.Document
	for start := 0; ; start += c.size - c.overlap {
		end := min(start+c.size, len(sentences))
		chunks = append(chunks, chunkOf(document, strings.Join(sentences[start:end], " "), len(chunks)))
		if end == len(sentences) {
			return chunks, nil
		}
	}
}

func chunkOf(parent domain.Document, text string, idx int) domain.Document {
	meta := parent.Metadata.Clone()
	meta[domain.MetaChunkIndex] = strconv.Itoa(idx)
	return domain.Document{Content: text, Metadata: meta}
}
