// Package mongostore is the optional durable collaborator for a Session's
// execution journal. spec.md §4.8 step 7 keeps the journal itself an
// in-memory ring buffer and explicitly treats persistence as an external
// collaborator's concern; this package is that collaborator, exporting
// Journal snapshots to MongoDB so a LEARNING-phase export survives past
// the in-memory buffer's eviction.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/orc-run/agentmesh/internal/session"
)

const (
	defaultCollection = "session_journal"
	defaultTimeout    = 5 * time.Second
)

// entryDocument is the BSON shape of a session.Entry, mirroring the
// teacher's runlog eventDocument field layout.
type entryDocument struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	SessionID string        `bson:"session_id"`
	Phase     string        `bson:"phase"`
	NodeID    string        `bson:"node_id"`
	Summary   string        `bson:"summary"`
	Timestamp time.Time     `bson:"timestamp"`
}

// Options configures Store.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store exports session journal entries to a MongoDB collection.
type Store struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// New builds a Store against the given MongoDB client, ensuring the
// collection has an index over session_id for efficient per-session
// export/list.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collection)

	idxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := coll.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("mongostore: ensuring index: %w", err)
	}

	return &Store{coll: coll, timeout: timeout}, nil
}

// Ping verifies connectivity to the backing MongoDB deployment.
func (s *Store) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

// Export appends a Journal's current snapshot for sessionID. Safe to
// call repeatedly (e.g. once per LEARNING phase); re-exported entries
// are simply inserted again, since the journal ring buffer carries no
// stable entry identity to dedupe against.
func (s *Store) Export(ctx context.Context, sessionID string, entries []session.Entry) error {
	if sessionID == "" {
		return errors.New("mongostore: session id is required")
	}
	if len(entries) == 0 {
		return nil
	}

	docs := make([]any, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, entryDocument{
			SessionID: sessionID,
			Phase:     e.Phase,
			NodeID:    e.NodeID,
			Summary:   e.Summary,
			Timestamp: e.Timestamp.UTC(),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.InsertMany(ctx, docs)
	return err
}

// List returns the exported entries for sessionID in chronological
// order, up to limit.
func (s *Store) List(ctx context.Context, sessionID string, limit int64) ([]session.Entry, error) {
	if sessionID == "" {
		return nil, errors.New("mongostore: session id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cur, err := s.coll.Find(ctx, bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []entryDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	entries := make([]session.Entry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, session.Entry{
			Timestamp: d.Timestamp,
			Phase:     d.Phase,
			NodeID:    d.NodeID,
			Summary:   d.Summary,
		})
	}
	return entries, nil
}
