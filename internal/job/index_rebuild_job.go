package job

import "context"

type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// IndexRebuildJob re-weights every indexed chunk against the current
// corpus statistics.
type IndexRebuildJob struct {
	index Rebuilder
}

func NewIndexRebuildJob(index Rebuilder) *IndexRebuildJob {
	return &IndexRebuildJob{index: index}
}

func (j *IndexRebuildJob) Name() string {
	return "index_rebuild"
}

func (j *IndexRebuildJob) Run(ctx context.Context) error {
	if j.index == nil {
		return nil
	}
	return j.index.Rebuild(ctx)
}
