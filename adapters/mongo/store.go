package mongo

import (
	"context"

	"go.uber.org/zap"
)

// Store bundles the MongoDB repositories behind repositories.Storage
type Store struct {
	*JournalRepository
	*TranscriptRepository
	client *Client
}

// NewStore wires the repositories to an open client and creates indexes
func NewStore(ctx context.Context, client *Client, logger *zap.Logger) (*Store, error) {
	journal := NewJournalRepository(client.Database, logger)
	if err := journal.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return &Store{
		JournalRepository:    journal,
		TranscriptRepository: NewTranscriptRepository(client.Database),
		client:               client,
	}, nil
}

// Close disconnects the underlying client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
