package repository

import (
	"context"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// ArtifactStore keeps raw fetched pages addressable by a generated name.
type ArtifactStore interface {
	// Put writes body and returns the artifact with its generated Name set.
	Put(ctx context.Context, meta entity.Artifact, body []byte) (entity.Artifact, error)
	// Get reads a previously stored page back. It returns entity.ErrNotFound
	// for unknown names.
	Get(ctx context.Context, name string) ([]byte, error)
}
