// Package postgres implements npstore.Store backed by PostgreSQL
// (github.com/jackc/pgx/v5), for production deployments that need
// durable, queryable checkpoints and dead letters shared across
// processes.
//
//	s, err := postgres.NewStore(ctx, postgres.Options{ConnString: dsn})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	if err := s.InitSchema(ctx); err != nil {
//		return err
//	}
//	pctx.SetStateManager(s)
//
// DBPool narrows the dependency to Exec/Query/QueryRow/Close so tests
// can substitute github.com/pashagolub/pgxmock/v3 via NewStoreWithPool.
package postgres
