package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	cases := map[string]error{
		"":                   nil,
		"not_found":          fmt.Errorf("%w: a.txt", ErrNotFound),
		"unsupported_format": fmt.Errorf("%w: .pdf", ErrUnsupportedFormat),
		"config":             fmt.Errorf("%w: bad", ErrConfig),
		"retrieval":          fmt.Errorf("search health: %w", fmt.Errorf("%w: boom", ErrRetrieval)),
		"generation":         fmt.Errorf("%w: timeout", ErrGeneration),
		"internal":           errors.New("other"),
	}
	for want, err := range cases {
		assert.Equal(t, want, ErrorKind(err))
	}
}

func TestDocumentType(t *testing.T) {
	d := Document{Content: "x", Metadata: Metadata{MetaDocType: "auto"}}
	assert.Equal(t, PolicyAuto, d.Type())
	assert.Equal(t, PolicyUnknown, Document{}.Type())
}

func TestMetadataClone(t *testing.T) {
	m := Metadata{"a": "1"}
	c := m.Clone()
	c["a"] = "2"
	assert.Equal(t, "1", m["a"])
}
