// Package ingest turns policy files on disk into documents ready for the
// retrieval store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"policyrag/internal/domain"
	"policyrag/internal/router"
)

// Ingestor reads plain-text policy files.
type Ingestor struct {
	router  *router.Router
	headers []router.Header
	chunker domain.Chunker
	logger  *zap.Logger
}

// DocumentStats summarises a batch of processed documents.
type DocumentStats struct {
	Total  int                       `json:"total_documents"`
	ByType map[domain.PolicyType]int `json:"by_type"`
}

func New(r *router.Router, headers []router.Header, chunker domain.Chunker, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{router: r, headers: headers, chunker: chunker, logger: logger}
}

// Process reads path and returns its documents. A file that carries a known
// policy header is returned whole so that cross references between its
// sections stay together; anything else is chunked.
func (in *Ingestor) Process(ctx context.Context, op domain.Operation, path string) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: file %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrUnsupportedFormat, path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".txt" {
		return nil, fmt.Errorf("%w: file type %q", domain.ErrUnsupportedFormat, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	text := string(data)

	base := domain.Document{
		Content: text,
		Metadata: domain.Metadata{
			domain.MetaSource:      path,
			domain.MetaProcessedAt: op.Timestamp(),
			domain.MetaProcessedBy: op.User,
			domain.MetaFileType:    ext,
			domain.MetaFileName:    filepath.Base(path),
		},
	}

	if typ, ok := router.DetectHeader(text, in.headers); ok {
		base.Metadata[domain.MetaDocType] = string(typ)
		in.logger.Info("processed policy document",
			zap.String("path", path), zap.String("doc_type", string(typ)))
		return []domain.Document{base}, nil
	}

	chunks, err := in.chunker.Chunk(base)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", path, err)
	}
	for i := range chunks {
		chunks[i].Metadata[domain.MetaDocType] = string(in.router.Classify(chunks[i].Content))
	}
	if len(chunks) == 0 {
		in.logger.Warn("document has no content", zap.String("path", path))
	}
	in.logger.Info("processed document",
		zap.String("path", path), zap.Int("chunks", len(chunks)))
	return chunks, nil
}

// Stats counts documents per type.
func Stats(docs []domain.Document) DocumentStats {
	stats := DocumentStats{Total: len(docs), ByType: map[domain.PolicyType]int{}}
	for _, d := range docs {
		stats.ByType[d.Type()]++
	}
	return stats
}
