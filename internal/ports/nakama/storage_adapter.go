package nakama

import (
	"context"
	"encoding/json"
	"fmt"

	"tictactoe/internal/domain"
	"tictactoe/internal/ports"

	"github.com/heroiclabs/nakama-common/api"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// NakamaCoordinationAdapter implements ports.CoordinationStore on Nakama storage.
type NakamaCoordinationAdapter struct {
	client *APIClient
}

// NewNakamaCoordinationAdapter creates a new coordination store adapter.
func NewNakamaCoordinationAdapter(client *APIClient) *NakamaCoordinationAdapter {
	return &NakamaCoordinationAdapter{client: client}
}

// Put writes the record once, publicly readable. Version "*" makes Nakama
// reject the write when the key already exists; the stored record is then
// read back and returned instead.
func (a *NakamaCoordinationAdapter) Put(ctx context.Context, sess *domain.Session, rec domain.CoordinationRecord) (domain.CoordinationRecord, error) {
	if rec.Key == "" || rec.SessionID == "" {
		return domain.CoordinationRecord{}, fmt.Errorf("coordination record needs a key and a session id")
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return domain.CoordinationRecord{}, fmt.Errorf("failed to marshal coordination record: %w", err)
	}

	_, err = a.client.WriteStorageObjects(ctx, sess.Token, []*api.WriteStorageObject{
		{
			Collection:      CoordinationCollection,
			Key:             rec.Key,
			Value:           string(value),
			Version:         "*",
			PermissionRead:  wrapperspb.Int32(storagePermissionPublicRead),
			PermissionWrite: wrapperspb.Int32(storagePermissionOwnerWrite),
		},
	})
	if err != nil {
		existing, found, readErr := a.Get(ctx, sess, rec.Key, sess.UserID)
		if readErr == nil && found {
			return existing, nil
		}
		return domain.CoordinationRecord{}, err
	}
	return rec, nil
}

// Get reads the record key owned by ownerID.
func (a *NakamaCoordinationAdapter) Get(ctx context.Context, sess *domain.Session, key, ownerID string) (domain.CoordinationRecord, bool, error) {
	out, err := a.client.ReadStorageObjects(ctx, sess.Token, []*api.ReadStorageObjectId{
		{Collection: CoordinationCollection, Key: key, UserId: ownerID},
	})
	if err != nil {
		return domain.CoordinationRecord{}, false, err
	}

	for _, obj := range out.GetObjects() {
		if obj.GetKey() != key {
			continue
		}
		var rec domain.CoordinationRecord
		if err := json.Unmarshal([]byte(obj.GetValue()), &rec); err != nil {
			return domain.CoordinationRecord{}, false, fmt.Errorf("failed to unmarshal coordination record: %w", err)
		}
		if rec.SessionID == "" {
			return domain.CoordinationRecord{}, false, fmt.Errorf("coordination record %s has no match id", key)
		}
		rec.Key = key
		return rec, true, nil
	}
	return domain.CoordinationRecord{}, false, nil
}

var _ ports.CoordinationStore = (*NakamaCoordinationAdapter)(nil)
