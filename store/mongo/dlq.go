package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/dlq"
)

// PushDLQ replaces or inserts the entry with the same job ID.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQModel(entry)
	_, err := s.db.Collection(colDLQ).ReplaceOne(ctx,
		bson.M{"_id": m.Job.ID},
		m,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return wrap("push dlq", err)
	}
	return nil
}

// ListDLQ returns entries, oldest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "failed_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colDLQ).Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, wrap("list dlq", err)
	}
	defer cursor.Close(ctx)

	var models []dlqEntryModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, wrap("list dlq decode", err)
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		entries = append(entries, fromDLQModel(&models[i]))
	}
	return entries, nil
}

// GetDLQ retrieves an entry by job ID.
func (s *Store) GetDLQ(ctx context.Context, jobID string) (*dlq.Entry, error) {
	var m dlqEntryModel
	err := s.db.Collection(colDLQ).FindOne(ctx, bson.M{"_id": jobID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, queuectl.ErrDLQNotFound
		}
		return nil, wrap("get dlq", err)
	}
	return fromDLQModel(&m), nil
}

// DeleteDLQ removes an entry. Deleting a missing entry is not an error.
func (s *Store) DeleteDLQ(ctx context.Context, jobID string) error {
	if _, err := s.db.Collection(colDLQ).DeleteOne(ctx, bson.M{"_id": jobID}); err != nil {
		return wrap("delete dlq", err)
	}
	return nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(colDLQ).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, wrap("count dlq", err)
	}
	return n, nil
}
