// Package postgres implements store.Store on PostgreSQL using pgx/v5.
//
// ClaimJob is a single UPDATE over a SELECT ... FOR UPDATE SKIP LOCKED
// subquery, so concurrent workers never claim the same row and never
// block on each other. Schema changes are plain SQL files embedded in the
// binary and applied in filename order by Migrate.
//
//	s, err := postgres.New(ctx, "postgres://localhost:5432/queuectl?sslmode=disable")
//	defer s.Close()
//	err = s.Migrate(ctx)
package postgres
