// Package redis implements npstore.Store backed by Redis
// (github.com/redis/go-redis/v9), for shared, high-throughput
// deployments that want low-latency checkpoint/dead-letter access with
// optional TTL-based expiry.
//
//	s := redis.NewStore(redis.Options{Addr: "localhost:6379", TTL: time.Hour})
//	defer s.Close()
//	pctx.SetStateManager(s)
//
// Checkpoints are stored as individual keys indexed into a per-run set;
// dead letters append to a per-run list. NewStoreWithClient wraps an
// already-constructed client. The package has no tests of its own.
package redis
