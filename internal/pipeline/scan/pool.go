// Package scan orchestrates corruption scans: discovery, probing, bounded
// parallel inspection, verdict classification, and history persistence.
package scan

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

// Analyzer is the media tool surface the pipeline needs. *ffmpeg.Driver
// satisfies it; tests substitute fakes.
type Analyzer interface {
	Probe(ctx context.Context, id model.FileIdentity) (model.ProbeResult, error)
	Inspect(ctx context.Context, id model.FileIdentity, depth model.Depth) (model.RawAnalysis, error)
}

// job is one inspection unit handed to the worker pool.
type job struct {
	File  model.FileIdentity
	Depth model.Depth
	Probe *model.ProbeResult
}

// outcome pairs a job with its raw analyzer output. Err is set only for
// launch failures; analyzer exit codes and timeouts travel inside Raw.
type outcome struct {
	Job job
	Raw model.RawAnalysis
	Err error
}

// pool runs inspections on a fixed number of workers fed through a bounded
// channel, so at most MaxWorkers analyzer children exist at any moment.
type pool struct {
	analyzer Analyzer
	workers  int
	jobs     chan job
	results  chan outcome
}

func newPool(analyzer Analyzer, workers, queueCapacity int) *pool {
	return &pool{
		analyzer: analyzer,
		workers:  workers,
		jobs:     make(chan job, queueCapacity),
		results:  make(chan outcome, queueCapacity),
	}
}

// start launches the workers. The results channel closes once every worker
// has drained the job channel or the context is cancelled.
func (p *pool) start(ctx context.Context) <-chan outcome {
	g := &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		g.Go(func() error { return p.worker(ctx) })
	}
	go func() {
		_ = g.Wait()
		close(p.results)
	}()
	return p.results
}

func (p *pool) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-p.jobs:
			if !ok {
				return nil
			}
			raw, err := p.analyzer.Inspect(ctx, j.File, j.Depth)
			select {
			case p.results <- outcome{Job: j, Raw: raw, Err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// submit enqueues jobs and closes the channel; it respects cancellation so a
// stalled pool never wedges the producer.
func (p *pool) submit(ctx context.Context, jobs []job) {
	defer close(p.jobs)
	for _, j := range jobs {
		select {
		case p.jobs <- j:
		case <-ctx.Done():
			return
		}
	}
}
