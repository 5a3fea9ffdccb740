package ports

import (
	"context"

	"tictactoe/internal/domain"
)

// CoordinationStore holds the write-once records that let matched peers agree
// on one shared session.
type CoordinationStore interface {
	// Put writes rec under rec.Key, owned by sess. If a record already exists
	// for the key the stored record is returned unchanged and no error is
	// reported, so callers always continue with the canonical session id.
	Put(ctx context.Context, sess *domain.Session, rec domain.CoordinationRecord) (domain.CoordinationRecord, error)

	// Get reads the record stored under key by ownerID. found is false when
	// nothing has been written yet.
	Get(ctx context.Context, sess *domain.Session, key, ownerID string) (rec domain.CoordinationRecord, found bool, err error)
}
