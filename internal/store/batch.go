package store

import "stepflow-monitor/internal/model"

// Batch bundles the rows one engine tick wants persisted together: spec
// §4.B's save_execution_batch exists so the engine can flush an
// execution's status alongside the step it just transitioned without two
// round trips through the write mutex, which matters once several
// executions are draining their ingestion channel at once (§5).
type Batch struct {
	Execution *model.Execution
	Steps     []*model.Step
	Artifacts []*model.Artifact
}

// SaveBatch writes Execution, Steps, and Artifacts inside one write-mutex
// critical section and one SQL transaction, so a crash mid-flush never
// leaves the execution row ahead of the step rows it implies.
func (s *Store) SaveBatch(b Batch) error {
	return s.withWrite(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if b.Execution != nil {
			if err := saveExecutionTx(tx, b.Execution); err != nil {
				return err
			}
		}
		for _, st := range b.Steps {
			if err := saveStepTx(tx, st); err != nil {
				return err
			}
		}
		for _, a := range b.Artifacts {
			if err := saveArtifactTx(tx, a); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}
