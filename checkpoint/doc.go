// Package checkpoint provides durable ProgressStore implementations.
//
// A reader configured with a store resumes from the saved progress on start,
// commits periodically and commits a last time on Close:
//
//	store, err := checkpoint.OpenSQLite(ctx, "progress.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	r, err := mqread.NewReader(ctx, &cfg, adm, pool, mqread.WithProgressStore(store))
//
// KV keeps progress in a NATS JetStream key-value bucket, so readers of the
// same name on different hosts share it. SQLite keeps it in a local file.
package checkpoint
