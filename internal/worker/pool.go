package worker

import (
	"context"
	"log/slog"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"golang.org/x/sync/errgroup"
)

// dispatch runs one fetched batch. With a concurrency of 1 jobs run strictly
// in order; otherwise at most p.concurrency jobs run at once. It returns when
// every started job has finished.
func (p *Processor) dispatch(ctx context.Context, jobs []*domain.JobRecord) {
	if p.concurrency <= 1 {
		for i, job := range jobs {
			if ctx.Err() != nil {
				p.logger.Info("Dispatch stopped - context canceled",
					slog.Int("remaining", len(jobs)-i),
				)
				return
			}
			p.processJob(ctx, job)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for _, job := range jobs {
		if ctx.Err() != nil {
			p.logger.Info("Dispatch stopped - context canceled")
			break
		}
		g.Go(func() error {
			p.processJob(ctx, job)
			return nil
		})
	}

	_ = g.Wait()
}
