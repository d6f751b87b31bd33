package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"retro-api/domain"
)

// NotFoundError is returned when no snapshot has been persisted for a board.
type NotFoundError struct {
	BoardID string
}

func (e NotFoundError) Error() string {
	return "no snapshot for board " + e.BoardID
}

// SnapshotNotFound marks the error as a missing snapshot rather than a
// storage failure.
func (NotFoundError) SnapshotNotFound() {}

// Storage persists board snapshots in an Azure table, one entity per board.
type Storage struct {
	snapshots *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, snapshotsTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{snapshots: svc.NewClient(snapshotsTable)}, nil
}

type snapshotEntity struct {
	aztables.Entity
	Revision int64  `json:"Revision"`
	Data     string `json:"Data"`
}

// SaveSnapshot upserts the board's full state.
func (s *Storage) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	ent := snapshotEntity{
		Entity: aztables.Entity{
			PartitionKey: snap.BoardID,
			RowKey:       snap.BoardID,
		},
		Revision: int64(snap.Revision),
		Data:     string(data),
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.snapshots.UpsertEntity(ctx, payload, nil)
	return err
}

// LoadSnapshot fetches the persisted state for a board, or NotFoundError when
// the board has never been saved.
func (s *Storage) LoadSnapshot(ctx context.Context, boardID string) (*domain.Snapshot, error) {
	resp, err := s.snapshots.GetEntity(ctx, boardID, boardID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, NotFoundError{BoardID: boardID}
		}
		return nil, err
	}
	var ent snapshotEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(ent.Data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
