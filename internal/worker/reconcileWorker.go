package worker

import (
	"time"
)

const reconcileInterval = 30 * time.Second

// ReconcileWorker periodically resolves transfers stuck in broadcast by asking
// the chain what became of their signatures. Safe to run on every instance;
// the repository's row locks keep concurrent sweeps consistent.
func (wk *Worker) ReconcileWorker() {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wk.Ctx.Done():
			return
		case <-ticker.C:
			resolved, err := wk.Engine.ReconcileStuck(wk.Ctx)
			if err != nil {
				wk.Logger.Error("reconciliation sweep failed", "error", err)
				continue
			}
			if resolved > 0 {
				wk.Logger.Info("reconciliation sweep resolved transfers", "count", resolved)
			}
		}
	}
}
