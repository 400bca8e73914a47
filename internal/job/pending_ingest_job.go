package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type PendingProcessor interface {
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// Reloader refreshes in-memory index state from its durable snapshot.
type Reloader interface {
	Load(ctx context.Context)
}

// PendingIngestJob indexes documents that were uploaded without being
// processed. The index is reloaded first so that writes made by other
// processes since the last run are not overwritten.
type PendingIngestJob struct {
	processor PendingProcessor
	index     Reloader
	batch     int
}

func NewPendingIngestJob(processor PendingProcessor, index Reloader, batch int) *PendingIngestJob {
	if batch <= 0 {
		batch = 20
	}
	return &PendingIngestJob{processor: processor, index: index, batch: batch}
}

func (j *PendingIngestJob) Name() string {
	return "pending_ingest"
}

func (j *PendingIngestJob) Run(ctx context.Context) error {
	if j.processor == nil {
		return nil
	}
	if j.index != nil {
		j.index.Load(ctx)
	}
	done, err := j.processor.ProcessPending(ctx, j.batch)
	if done > 0 {
		logutil.GetLogger(ctx).Info("pending documents indexed", zap.Int("count", done))
	}
	return err
}
