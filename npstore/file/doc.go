// Package file implements npstore.Store as two append-only JSON-lines
// files, for examples and tests that need persistence without a
// database.
//
//	s, err := file.NewStore(file.Options{
//		CheckpointPath: "checkpoints.jsonl",
//		DeadLetterPath: "deadletters.jsonl",
//	})
//	if err != nil {
//		return err
//	}
//	pctx.SetStateManager(s)
package file
