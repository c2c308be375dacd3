// Package worker runs the goroutines that load scheduled tiles.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/tileloader/internal/logger"
	"github.com/mohammed-shakir/tileloader/internal/scheduler"
	"github.com/mohammed-shakir/tileloader/internal/tile"
)

// Loader loads one tile at a time. wanted reports whether the tile is still
// needed; loaders poll it before decoding.
type Loader interface {
	Load(ctx context.Context, id tile.ID, wanted func() bool) (*tile.Content, error)
	Close() error
}

type LoaderFactory func() (Loader, error)

// Scheduler is the part of scheduler.Manager the pool drives.
type Scheduler interface {
	NextJob(ctx context.Context) (scheduler.Job, error)
	Begin(t *tile.Tile) bool
	Wanted(t *tile.Tile) bool
	JobCompleted(t *tile.Tile, c *tile.Content, err error)
}

const DefaultWorkers = 4

type Pool struct {
	sched     Scheduler
	newLoader LoaderFactory
	workers   int
	log       *slog.Logger
}

func New(s Scheduler, newLoader LoaderFactory, workers int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{sched: s, newLoader: newLoader, workers: workers, log: log}
}

// Run starts the workers and blocks until ctx is done or the scheduler is
// closed. Each worker owns one Loader for its lifetime.
func (p *Pool) Run(ctx context.Context) error {
	loaders := make([]Loader, 0, p.workers)
	defer func() {
		for _, l := range loaders {
			_ = l.Close()
		}
	}()
	for i := range p.workers {
		l, err := p.newLoader()
		if err != nil {
			return fmt.Errorf("worker %d loader: %w", i, err)
		}
		loaders = append(loaders, l)
	}

	var wg sync.WaitGroup
	wg.Add(len(loaders))
	for i, l := range loaders {
		go func() {
			defer wg.Done()
			p.loop(logger.WithComponent(ctx, fmt.Sprintf("worker-%d", i)), l)
		}()
	}
	wg.Wait()
	return nil
}

func (p *Pool) loop(ctx context.Context, l Loader) {
	for {
		job, err := p.sched.NextJob(ctx)
		if err != nil {
			if !errors.Is(err, scheduler.ErrClosed) && ctx.Err() == nil {
				p.log.ErrorContext(ctx, "next job", "err", err)
			}
			return
		}
		if !p.sched.Begin(job.Tile) {
			continue
		}
		jctx := logger.WithTile(logger.WithJobID(ctx, ""), job.ID.String())
		c, err := l.Load(jctx, job.ID, func() bool { return p.sched.Wanted(job.Tile) })
		p.sched.JobCompleted(job.Tile, c, err)
		if err != nil {
			p.log.DebugContext(jctx, "tile load", "err", err)
		}
	}
}
