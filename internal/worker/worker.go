package worker

import (
	"context"
	"log/slog"

	"github.com/chukwuka-eze/stablepay/internal/repository"
	"github.com/chukwuka-eze/stablepay/internal/settlement"
	"github.com/chukwuka-eze/stablepay/internal/stream"
)

type Worker struct {
	KafkaStream *stream.KafkaStream
	DB          repository.Database
	Engine      *settlement.Engine
	Ctx         context.Context
	Logger      *slog.Logger
}

const (
	// settlementAuditGroupID is used by the worker that persists transfer state
	// transitions into the audit trail
	settlementAuditGroupID = "settlement-audit-group"

	// provisionAuditGroupID is used by the worker that persists provisioning
	// transitions into the audit trail
	provisionAuditGroupID = "provision-audit-group"
)

// Our workers typically need access to the database, the settlement engine and
// the kafka event stream; worker-specific dependencies are passed as arguments
// to the individual worker.
func New(wk *Worker) *Worker {
	return &Worker{
		KafkaStream: wk.KafkaStream,
		DB:          wk.DB,
		Engine:      wk.Engine,
		Ctx:         wk.Ctx,
		Logger:      wk.Logger,
	}
}
