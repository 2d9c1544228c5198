package engine

import (
	"github.com/m-mizutani/goerr/v2"
)

// Failure classes. Every error leaving a component carries one of these tags;
// callers classify with goerr.HasTag.
var (
	TagEmbeddingUnavailable = goerr.NewTag("embedding_unavailable")
	TagExtractionFailed     = goerr.NewTag("extraction_failed")
	TagParseFailed          = goerr.NewTag("parse_failed")
	TagPersistenceFailed    = goerr.NewTag("persistence_failed")
	TagStaleLock            = goerr.NewTag("stale_lock")
	TagInvalidInput         = goerr.NewTag("invalid_input")
)

// ErrNoEmbedder is returned by the vector index when no embedder is configured.
var ErrNoEmbedder = goerr.New("no embedder configured", goerr.T(TagEmbeddingUnavailable))

// IsInvalidInput reports whether err was caused by a bad tier, scope or content.
func IsInvalidInput(err error) bool {
	return goerr.HasTag(err, TagInvalidInput)
}

func invalidInput(msg string, opts ...goerr.Option) error {
	return goerr.New(msg, append(opts, goerr.T(TagInvalidInput))...)
}
