// Package redis implements store.Store on Redis using go-redis.
//
// Each job is a Hash. Pending jobs live in two Sorted Sets: "ready", scored
// by creation time, and "scheduled", scored by the time a retry becomes
// due. ClaimJob runs a Lua script that promotes due scheduled jobs into the
// ready set and pops the oldest one in a single atomic step. A Set per
// state supports listing and counting. Dead letter entries are Hashes
// indexed by a Sorted Set scored by failure time.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Migrate(ctx); err != nil { ... }
package redis
