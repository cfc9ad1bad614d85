//go:build integration

package mongo_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	mongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/job"
	"github.com/xraph/queuectl/settings"
	"github.com/xraph/queuectl/store"
	mongostore "github.com/xraph/queuectl/store/mongo"
	"github.com/xraph/queuectl/store/storetest"
)

// setupClient starts a MongoDB container and returns a connected client.
func setupClient(t *testing.T) *mongod.Client {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongodb container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client
}

// factory returns a fresh, migrated database per subtest on one container.
func factory(client *mongod.Client) storetest.Factory {
	var n atomic.Int64
	return func(t *testing.T) store.Store {
		t.Helper()
		db := client.Database(fmt.Sprintf("queuectl_test_%d", n.Add(1)))
		s := mongostore.New(db, mongostore.WithLogger(slog.Default()))
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		t.Cleanup(func() { _ = db.Drop(context.Background()) })
		return s
	}
}

func TestConformance(t *testing.T) {
	storetest.Run(t, factory(setupClient(t)))
}

func TestStore_MigrateIdempotentKeepsSettings(t *testing.T) {
	client := setupClient(t)
	s := factory(client)(t)
	ctx := context.Background()

	v, ok, err := s.GetSetting(ctx, settings.KeyMaxRetries)
	if err != nil || !ok || v != "3" {
		t.Fatalf("seeded max_retries = %q, %v, %v", v, ok, err)
	}
	if err := s.SetSetting(ctx, settings.KeyMaxRetries, "9"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if v, _, _ := s.GetSetting(ctx, settings.KeyMaxRetries); v != "9" {
		t.Errorf("max_retries after migrate = %q, want 9", v)
	}
}

func TestStore_LegacyDocumentInheritsMaxRetries(t *testing.T) {
	client := setupClient(t)
	s := factory(client)(t).(*mongostore.Store)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := s.DB().Collection("jobs").InsertOne(ctx, bson.M{
		"_id":        "legacy",
		"command":    "true",
		"state":      "pending",
		"attempts":   0,
		"created_at": now,
		"updated_at": now,
	})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	got, err := s.GetJob(ctx, "legacy")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.MaxRetries != job.InheritMaxRetries {
		t.Errorf("MaxRetries = %d, want inherit", got.MaxRetries)
	}
	if got.NextRunAt != nil {
		t.Errorf("NextRunAt = %v, want nil", got.NextRunAt)
	}

	claimed, err := s.ClaimJob(ctx, now, "w")
	if err != nil || claimed == nil || claimed.ID != "legacy" {
		t.Fatalf("ClaimJob = %v, %v; want legacy", claimed, err)
	}
}

func TestOpen_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := mongostore.Open("mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=500", "queuectl")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Ping(ctx); !errors.Is(err, queuectl.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
