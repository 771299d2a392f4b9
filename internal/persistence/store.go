package persistence

import (
	"context"
	"database/sql"
)

// Store bundles the repositories over one database handle. A nil Store
// disables persistence: the pipeline checks for nil and skips
// recording, so the live view never depends on the store being
// available.
type Store struct {
	DB          *sql.DB
	Messages    *MessageRepo
	NodeHistory *NodeHistoryRepo
	Status      *StatusRepo
	Counters    *CounterRepo
	Events      *EventRepo
	NodeCounts  *NodeCountRepo
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		DB:          db,
		Messages:    NewMessageRepo(db),
		NodeHistory: NewNodeHistoryRepo(db),
		Status:      NewStatusRepo(db),
		Counters:    NewCounterRepo(db),
		Events:      NewEventRepo(db),
		NodeCounts:  NewNodeCountRepo(db),
	}
}

// OpenStore opens (creating if needed) the store at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
