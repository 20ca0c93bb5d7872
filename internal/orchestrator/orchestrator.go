// Package orchestrator owns the server process's startup recovery and
// graceful shutdown (spec §4.H). Neither belongs in internal/engine: they
// run exactly once each, outside the per-execution lifecycle engine.Engine
// otherwise owns.
package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"stepflow-monitor/internal/engine"
	"stepflow-monitor/internal/model"
	"stepflow-monitor/internal/store"
	"stepflow-monitor/internal/sym"
	"stepflow-monitor/internal/util"
)

// RecoverNonTerminal implements spec §4.H's crash-recovery scan: any
// execution still pending or running when the process starts was
// orphaned by a previous process's death, since the engine that owned it
// no longer exists. Each is marked failed with a stable message rather
// than left stuck forever.
func RecoverNonTerminal(st *store.Store, logs *store.LogWriter, log *zap.SugaredLogger) error {
	orphaned, err := st.ListNonTerminal()
	if err != nil {
		return err
	}
	for _, exec := range orphaned {
		msg := "server restarted during execution"
		exec.Status = model.ExecutionFailed
		exec.ErrorMessage = util.Ptr(msg)
		if exec.CompletedAt == nil {
			exec.CompletedAt = util.Ptr(time.Now().UTC())
		}
		if err := st.SaveExecution(exec); err != nil {
			if log != nil {
				log.Errorw("failed to mark orphaned execution failed", sym.Engine, true, "execution_id", exec.ID, "error", err)
			}
			continue
		}
		steps, err := st.GetSteps(exec.ID)
		if err == nil {
			for _, step := range steps {
				if !step.Status.Terminal() {
					step.Status = model.StepFailed
					step.ErrorMessage = util.Ptr(msg)
					if step.CompletedAt == nil {
						step.CompletedAt = util.Ptr(time.Now().UTC())
					}
					_ = st.SaveStep(step)
				}
				_ = logs.CloseStep(exec.ID, step.ID)
			}
		}
		if log != nil {
			log.Warnw("recovered orphaned execution", sym.Engine, true, "execution_id", exec.ID)
		}
	}
	return nil
}

// Shutdown implements spec §4.H's graceful-shutdown half: every active
// execution is cancelled with a stable reason so its terminal status
// reflects what actually happened, rather than leaving the row
// perpetually "running" for the next RecoverNonTerminal pass to clean up.
func Shutdown(eng *engine.Engine) {
	eng.CancelAll("server_shutdown")
}
