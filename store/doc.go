// Package store defines the aggregate persistence interface.
//
// Each subsystem (job, dlq, settings) defines its own store interface. The
// composite [Store] composes them all. A single backend need only implement
// Store to satisfy every subsystem's persistence contract.
//
// # Available Backends
//
//   - store/mongo: MongoDB, the default; jobs, dlq and config collections
//   - store/postgres: PostgreSQL using pgx/v5, claims with SKIP LOCKED
//   - store/redis: Redis, claims with a server-side Lua script
//   - store/memory: in-memory store for development and testing
//
// The store/storetest package holds the conformance suite every backend
// runs in its tests.
//
// # Usage
//
//	s, err := mongo.Open("mongodb://localhost:27017/", "queuectl")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	// Open does not connect; Ping surfaces an unreachable server.
//	if err := s.Ping(ctx); err != nil {
//	    return err
//	}
//	if err := s.Migrate(ctx); err != nil {
//	    return err
//	}
package store
