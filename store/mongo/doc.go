// Package mongo implements store.Store on MongoDB with the official v2
// driver. It is the default backend.
//
// Jobs, dead letter entries and settings live in the jobs, dlq and config
// collections of one database. ClaimJob is a single FindOneAndUpdate, so
// any number of worker processes can share the database safely.
//
// Either hand New a *mongo.Database you own:
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("queuectl"))
//
// or let Open create and own the client, closing it on Close:
//
//	s, err := mongostore.Open(uri, "queuectl")
//	defer s.Close()
//	err = s.Migrate(ctx)
package mongo
