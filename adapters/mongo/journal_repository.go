package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

// entryDocument keeps the payload as a string so it stays readable in the shell
type entryDocument struct {
	CallSid    string             `bson:"call_sid"`
	Seq        int                `bson:"seq"`
	Kind       entities.EntryKind `bson:"kind"`
	Name       string             `bson:"name"`
	Payload    string             `bson:"payload,omitempty"`
	Error      string             `bson:"error,omitempty"`
	RecordedAt time.Time          `bson:"recorded_at"`
}

// JournalRepository stores sessions and their journal entries
type JournalRepository struct {
	sessions *mongo.Collection
	entries  *mongo.Collection
	logger   *zap.Logger
}

// NewJournalRepository creates a new MongoDB journal repository
func NewJournalRepository(db *mongo.Database, logger *zap.Logger) *JournalRepository {
	return &JournalRepository{
		sessions: db.Collection("sessions"),
		entries:  db.Collection("journal_entries"),
		logger:   logger,
	}
}

// EnsureIndexes creates the indexes the repository relies on
func (r *JournalRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.entries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "call_sid", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create journal index: %w", err)
	}

	_, err = r.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create session index: %w", err)
	}
	return nil
}

// CreateSession implements repositories.JournalRepository
func (r *JournalRepository) CreateSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	if _, err := r.sessions.InsertOne(ctx, session); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("session %s: %w", session.CallSid, repositories.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession implements repositories.JournalRepository
func (r *JournalRepository) GetSession(ctx context.Context, callSid string) (*entities.Session, error) {
	var session entities.Session
	err := r.sessions.FindOne(ctx, bson.M{"_id": callSid}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("session %s: %w", callSid, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session %s: %w", callSid, err)
	}
	return &session, nil
}

// UpdateSession implements repositories.JournalRepository
func (r *JournalRepository) UpdateSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	result, err := r.sessions.ReplaceOne(ctx, bson.M{"_id": session.CallSid}, session)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("session %s: %w", session.CallSid, repositories.ErrNotFound)
	}
	return nil
}

// ListSessions implements repositories.JournalRepository
func (r *JournalRepository) ListSessions(ctx context.Context, statuses ...entities.SessionStatus) ([]*entities.Session, error) {
	filter := bson.M{}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}

	cursor, err := r.sessions.Find(ctx, filter, options.Find().SetSort(bson.M{"started_at": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*entities.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

// AppendEntry implements repositories.JournalRepository
func (r *JournalRepository) AppendEntry(ctx context.Context, entry entities.JournalEntry) error {
	doc := entryDocument{
		CallSid:    entry.CallSid,
		Seq:        entry.Seq,
		Kind:       entry.Kind,
		Name:       entry.Name,
		Payload:    string(entry.Payload),
		Error:      entry.Error,
		RecordedAt: entry.RecordedAt,
	}
	if _, err := r.entries.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s#%d: %w", entry.CallSid, entry.Seq, repositories.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// LoadEntries implements repositories.JournalRepository
func (r *JournalRepository) LoadEntries(ctx context.Context, callSid string) ([]entities.JournalEntry, error) {
	cursor, err := r.entries.Find(ctx, bson.M{"call_sid": callSid}, options.Find().SetSort(bson.M{"seq": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to load journal for %s: %w", callSid, err)
	}
	defer cursor.Close(ctx)

	var docs []entryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode journal for %s: %w", callSid, err)
	}

	entries := make([]entities.JournalEntry, 0, len(docs))
	for _, doc := range docs {
		entry := entities.JournalEntry{
			CallSid:    doc.CallSid,
			Seq:        doc.Seq,
			Kind:       doc.Kind,
			Name:       doc.Name,
			Error:      doc.Error,
			RecordedAt: doc.RecordedAt,
		}
		if doc.Payload != "" {
			entry.Payload = []byte(doc.Payload)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PurgeTerminated implements repositories.JournalRepository
func (r *JournalRepository) PurgeTerminated(ctx context.Context, before time.Time) (int, error) {
	filter := bson.M{
		"status":     entities.SessionStatusTerminated,
		"updated_at": bson.M{"$lt": before},
	}

	cursor, err := r.sessions.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("failed to find terminated sessions: %w", err)
	}
	var ids []struct {
		CallSid string `bson:"_id"`
	}
	if err := cursor.All(ctx, &ids); err != nil {
		return 0, fmt.Errorf("failed to decode terminated sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	callSids := make([]string, 0, len(ids))
	for _, id := range ids {
		callSids = append(callSids, id.CallSid)
	}

	if _, err := r.entries.DeleteMany(ctx, bson.M{"call_sid": bson.M{"$in": callSids}}); err != nil {
		return 0, fmt.Errorf("failed to purge journal entries: %w", err)
	}
	result, err := r.sessions.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": callSids}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}

	r.logger.Info("Purged terminated sessions", zap.Int64("count", result.DeletedCount))
	return int(result.DeletedCount), nil
}
