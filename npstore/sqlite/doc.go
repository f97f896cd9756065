// Package sqlite implements npstore.Store backed by SQLite
// (github.com/mattn/go-sqlite3), for single-process deployments that
// want durable checkpoints and dead letters without an external
// database.
//
//	s, err := sqlite.NewStore(sqlite.Options{Path: "./npipeline.db"})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	pctx.SetStateManager(s)
//
// Two tables are created on open: one for StateCheckpoints, one for
// DeadLetterRecords, each indexed by pipeline run ID.
package sqlite
