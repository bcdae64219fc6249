package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

type TranscriptRepository struct {
	collection *mongo.Collection
}

// NewTranscriptRepository creates a new MongoDB transcript repository
func NewTranscriptRepository(db *mongo.Database) *TranscriptRepository {
	return &TranscriptRepository{
		collection: db.Collection("transcripts"),
	}
}

// SaveTranscript implements repositories.TranscriptRepository
func (r *TranscriptRepository) SaveTranscript(ctx context.Context, transcript *entities.Transcript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}

	_, err := r.collection.ReplaceOne(
		ctx,
		bson.M{"_id": transcript.CallSid},
		transcript,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return nil
}

// GetTranscript implements repositories.TranscriptRepository
func (r *TranscriptRepository) GetTranscript(ctx context.Context, callSid string) (*entities.Transcript, error) {
	var transcript entities.Transcript
	err := r.collection.FindOne(ctx, bson.M{"_id": callSid}).Decode(&transcript)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("transcript %s: %w", callSid, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transcript %s: %w", callSid, err)
	}
	return &transcript, nil
}

// DeleteTranscript implements repositories.TranscriptRepository
func (r *TranscriptRepository) DeleteTranscript(ctx context.Context, callSid string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": callSid}); err != nil {
		return fmt.Errorf("failed to delete transcript %s: %w", callSid, err)
	}
	return nil
}
