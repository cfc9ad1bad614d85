package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/job"
)

// EnqueueJob persists a new job. An existing ID returns
// queuectl.ErrDuplicateJobID and leaves the stored job unchanged.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.Collection(colJobs).InsertOne(ctx, toJobModel(j))
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("queuectl/mongo: enqueue job %q: %w", j.ID, queuectl.ErrDuplicateJobID)
		}
		return wrap("enqueue job", err)
	}
	return nil
}

// ClaimJob atomically moves the oldest eligible pending job to processing.
// FindOneAndUpdate gives the single-document atomicity that makes
// concurrent claimers safe.
func (s *Store) ClaimJob(ctx context.Context, now time.Time, claimedBy string) (*job.Job, error) {
	now = now.UTC()
	filter := bson.M{
		"state": string(job.StatePending),
		"$or": bson.A{
			bson.M{"next_run_at": nil},
			bson.M{"next_run_at": bson.M{"$lte": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"state":      string(job.StateProcessing),
			"updated_at": now,
			"claimed_by": claimedBy,
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		})

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, wrap("claim job", err)
	}
	return fromJobModel(&m), nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, queuectl.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	return fromJobModel(&m), nil
}

// CompleteJob marks a job held by claimedBy completed.
func (s *Store) CompleteJob(ctx context.Context, jobID, claimedBy string, now time.Time) error {
	return s.updateClaimed(ctx, "complete job", jobID, claimedBy, bson.M{
		"$set": bson.M{
			"state":      string(job.StateCompleted),
			"updated_at": now.UTC(),
		},
		"$unset": bson.M{"claimed_by": ""},
	})
}

// RescheduleJob returns a job held by claimedBy to pending, eligible from
// nextRunAt.
func (s *Store) RescheduleJob(ctx context.Context, jobID, claimedBy string, nextRunAt, now time.Time) error {
	return s.updateClaimed(ctx, "reschedule job", jobID, claimedBy, bson.M{
		"$set": bson.M{
			"state":       string(job.StatePending),
			"next_run_at": nextRunAt.UTC(),
			"updated_at":  now.UTC(),
		},
		"$unset": bson.M{"claimed_by": ""},
	})
}

// claimFilter matches jobID only while claimedBy holds it.
func claimFilter(jobID, claimedBy string) bson.M {
	return bson.M{
		"_id":        jobID,
		"state":      string(job.StateProcessing),
		"claimed_by": claimedBy,
	}
}

func (s *Store) updateClaimed(ctx context.Context, op, jobID, claimedBy string, update bson.M) error {
	res, err := s.db.Collection(colJobs).UpdateOne(ctx, claimFilter(jobID, claimedBy), update)
	if err != nil {
		return wrap(op, err)
	}
	if res.MatchedCount == 0 {
		return s.claimMiss(ctx, op, jobID)
	}
	return nil
}

// claimMiss tells a lost claim apart from a missing job after a
// conditional write matched nothing.
func (s *Store) claimMiss(ctx context.Context, op, jobID string) error {
	n, err := s.db.Collection(colJobs).CountDocuments(ctx, bson.M{"_id": jobID})
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return queuectl.ErrJobNotFound
	}
	return fmt.Errorf("queuectl/mongo: %s %q: %w", op, jobID, queuectl.ErrClaimLost)
}

// DeleteJob removes a job by ID. Deleting a missing job is not an error.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID}); err != nil {
		return wrap("delete job", err)
	}
	return nil
}

// DeleteClaimedJob removes a job only while claimedBy holds it.
func (s *Store) DeleteClaimedJob(ctx context.Context, jobID, claimedBy string) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, claimFilter(jobID, claimedBy))
	if err != nil {
		return wrap("delete claimed job", err)
	}
	if res.DeletedCount == 0 {
		if err := s.claimMiss(ctx, "delete claimed job", jobID); !errors.Is(err, queuectl.ErrJobNotFound) {
			return err
		}
	}
	return nil
}

// ListJobsByState returns jobs in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colJobs).Find(ctx, bson.M{"state": string(state)}, findOpts)
	if err != nil {
		return nil, wrap("list jobs by state", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, wrap("list jobs decode", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, fromJobModel(&models[i]))
	}
	return jobs, nil
}

// CountJobsByState groups the active queue by state.
func (s *Store) CountJobsByState(ctx context.Context) (map[job.State]int64, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$state"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.db.Collection(colJobs).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrap("count jobs by state", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		State string `bson:"_id"`
		N     int64  `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, wrap("count jobs decode", err)
	}

	counts := make(map[job.State]int64, len(rows))
	for _, r := range rows {
		counts[job.State(r.State)] = r.N
	}
	return counts, nil
}

// RequeueStaleJobs returns processing jobs last updated before olderThan
// to pending.
func (s *Store) RequeueStaleJobs(ctx context.Context, olderThan, now time.Time) (int64, error) {
	res, err := s.db.Collection(colJobs).UpdateMany(ctx,
		bson.M{
			"state":      string(job.StateProcessing),
			"updated_at": bson.M{"$lt": olderThan.UTC()},
		},
		bson.M{
			"$set": bson.M{
				"state":       string(job.StatePending),
				"next_run_at": nil,
				"updated_at":  now.UTC(),
			},
			"$unset": bson.M{"claimed_by": ""},
		},
	)
	if err != nil {
		return 0, wrap("requeue stale jobs", err)
	}
	return res.ModifiedCount, nil
}
