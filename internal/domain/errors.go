package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrConfig            = errors.New("invalid configuration")
	ErrRetrieval         = errors.New("retrieval failed")
	ErrGeneration        = errors.New("generation failed")
)

// ErrorKind maps err to a short kind name. Unknown errors are "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrRetrieval):
		return "retrieval"
	case errors.Is(err, ErrGeneration):
		return "generation"
	default:
		return "internal"
	}
}
