package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// PolicyType classifies a document or question.
type PolicyType string

const (
	PolicyHealth  PolicyType = "health"
	PolicyAuto    PolicyType = "auto"
	PolicyUnknown PolicyType = "unknown"
)

// Metadata keys attached to every ingested document.
const (
	MetaSource      = "source"
	MetaDocType     = "doc_type"
	MetaProcessedAt = "processed_at"
	MetaProcessedBy = "processed_by"
	MetaFileType    = "file_type"
	MetaFileName    = "file_name"
	MetaChunkIndex  = "chunk_index"
	// MetaDigest is set by the retrieval store; see Document.Digest.
	MetaDigest = "content_digest"
)

// TimestampLayout is the layout used for timestamps stored in metadata.
const TimestampLayout = "2006-01-02 15:04:05"

// Metadata is a flat set of string attributes stored next to a document.
type Metadata map[string]string

// Clone returns a copy that can be modified independently.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Document represents one unit of text loaded into the system.
type Document struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Source returns the path the document was read from.
func (d Document) Source() string { return d.Metadata[MetaSource] }

// Digest identifies a document by its source and content. Processing
// metadata such as the timestamp does not take part, so re-reading an
// unchanged file yields the same digest.
func (d Document) Digest() string {
	sum := sha256.Sum256([]byte(d.Source() + "\x00" + d.Content))
	return hex.EncodeToString(sum[:])
}

// Type returns the policy type recorded at ingestion time.
func (d Document) Type() PolicyType {
	if t := d.Metadata[MetaDocType]; t != "" {
		return PolicyType(t)
	}
	return PolicyUnknown
}

// Operation carries the caller identity and clock for a single request.
type Operation struct {
	User      string
	At        time.Time
	RequestID string
}

// NewOperation starts an operation for user at the given time.
func NewOperation(user string, at time.Time) Operation {
	return Operation{User: user, At: at.UTC(), RequestID: uuid.NewString()}
}

// Timestamp formats At for metadata.
func (o Operation) Timestamp() string { return o.At.Format(TimestampLayout) }

// QueryResult is what a Collection returns for a query. Distances is nil when
// the engine does not report them.
type QueryResult struct {
	IDs       []string
	Documents []string
	Metadatas []Metadata
	Distances []float64
}

// SearchResult is a retrieved document together with the collection it came from.
type SearchResult struct {
	Content     string     `json:"content"`
	Metadata    Metadata   `json:"metadata"`
	PolicyType  PolicyType `json:"policy_type"`
	Distance    float64    `json:"distance"`
	HasDistance bool       `json:"has_distance"`
}

// CacheEntry is a persisted model response.
type CacheEntry struct {
	Question string    `json:"question"`
	Context  string    `json:"context"`
	Response string    `json:"response"`
	CachedAt time.Time `json:"cached_at"`
	CachedBy string    `json:"cached_by"`
}

// AnswerStatus tells callers how an answer was produced.
type AnswerStatus string

const (
	StatusAnswered  AnswerStatus = "answered"
	StatusCached    AnswerStatus = "cached"
	StatusNoResults AnswerStatus = "no_results"
	StatusFailed    AnswerStatus = "failed"
)

// Answer is the result of answering a question.
type Answer struct {
	Response         string         `json:"response"`
	SimilarDocuments []SearchResult `json:"similar_documents"`
	Timestamp        time.Time      `json:"timestamp"`
	User             string         `json:"user"`
	Status           AnswerStatus   `json:"status"`
	ErrorKind        string         `json:"error_kind,omitempty"`
	Err              error          `json:"-"`
}
