package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tdorsey/corruptvideofileinspector/internal/classify"
	"github.com/tdorsey/corruptvideofileinspector/internal/config"
	"github.com/tdorsey/corruptvideofileinspector/internal/history"
	"github.com/tdorsey/corruptvideofileinspector/internal/log"
	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
	"github.com/tdorsey/corruptvideofileinspector/internal/probecache"
	"github.com/tdorsey/corruptvideofileinspector/internal/walk"
)

// Runner drives one scan end to end. It is the only writer to the history
// store for its run; workers never touch persistence.
type Runner struct {
	cfg        config.Config
	analyzer   Analyzer
	classifier *classify.Classifier
	store      *history.Store
	cache      *probecache.Cache // nil when probe caching is disabled
	walker     *walk.Walker
	logger     zerolog.Logger

	// Progress, when set, receives throttled snapshots. Sends never block:
	// a slow consumer just misses intermediate updates.
	Progress chan<- model.Progress
	limiter  *rate.Limiter
}

// New assembles a runner from validated configuration and its collaborators.
func New(cfg config.Config, analyzer Analyzer, classifier *classify.Classifier, store *history.Store, cache *probecache.Cache) *Runner {
	return &Runner{
		cfg:        cfg,
		analyzer:   analyzer,
		classifier: classifier,
		store:      store,
		cache:      cache,
		walker:     walk.New(walk.Options{Extensions: cfg.Scan.Extensions}),
		logger:     log.WithComponent("scan"),
		limiter:    rate.NewLimiter(10, 1),
	}
}

// runState carries the mutable bookkeeping of one run.
type runState struct {
	runID   string
	scanID  int64
	root    string
	started time.Time
	phase   model.Phase
	summary model.ScanSummary
	resume  *history.ResumeState
}

// Run scans root and returns the finalized summary. Cancellation is honored
// at every stage; whatever was persisted before the cancel stays persisted
// and the run is finalized as cancelled, resumable by the next run.
func (r *Runner) Run(ctx context.Context, root string) (model.ScanSummary, error) {
	runID := uuid.NewString()
	ctx = log.ContextWithRunID(ctx, runID)
	logger := log.WithContext(ctx, r.logger)

	if t := r.cfg.Scan.RunTimeoutS; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t)*time.Second)
		defer cancel()
	}

	if _, err := r.store.RecoverStale(ctx, r.cfg.History.StaleRunWindow()); err != nil {
		logger.Warn().Err(err).Msg("stale run recovery failed")
	}

	mode := model.ScanMode(r.cfg.Scan.Mode)
	st := &runState{runID: runID, root: root, started: time.Now()}

	if r.cfg.Scan.Resume {
		resume, err := r.store.AdoptResume(ctx, root, mode, r.cfg.Scan.ResumeWindow())
		if err != nil {
			return model.ScanSummary{}, fmt.Errorf("adopt resume checkpoint: %w", err)
		}
		st.resume = resume
	}

	scanID, err := r.store.OpenRun(ctx, history.RunParams{
		RunID:     runID,
		Directory: root,
		Mode:      mode,
		StartedAt: st.started,
		Resumed:   st.resume != nil,
	})
	if err != nil {
		return model.ScanSummary{}, fmt.Errorf("open run: %w", err)
	}
	st.scanID = scanID
	st.summary = model.ScanSummary{
		ID:         scanID,
		Directory:  root,
		Mode:       mode,
		StartedAt:  st.started,
		WasResumed: st.resume != nil,
	}

	logger.Info().Int64("scan_id", scanID).Str("mode", string(mode)).
		Str("directory", root).Bool("resumed", st.resume != nil).
		Msg("scan started")

	runErr := r.execute(ctx, st)

	st.summary.ScanTime = time.Since(st.started)
	st.summary.CompletedAt = time.Now().UTC()
	st.summary.Status = terminalStatus(runErr)

	// Finalization must survive the cancellation that ended the run.
	finalCtx := context.WithoutCancel(ctx)
	if err := r.store.FinalizeRun(finalCtx, scanID, st.summary); err != nil {
		runErr = errors.Join(runErr, err)
		st.summary.Status = model.StatusFailed
	}
	if st.resume != nil {
		// The new run's checkpoint supersedes the adopted one.
		if err := r.store.ClearResume(finalCtx, st.resume.ScanID); err != nil {
			logger.Warn().Err(err).Msg("clearing superseded resume checkpoint failed")
		}
	}

	runTotal.WithLabelValues(string(st.summary.Status)).Inc()
	logger.Info().Int64("scan_id", scanID).
		Str("status", string(st.summary.Status)).
		Int("processed", st.summary.Processed).
		Int("corrupt", st.summary.Corrupt).
		Int("suspicious", st.summary.Suspicious).
		Dur("scan_time", st.summary.ScanTime).
		Msg("scan finished")

	return st.summary, runErr
}

func terminalStatus(err error) model.RunStatus {
	switch {
	case err == nil:
		return model.StatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return model.StatusCancelled
	default:
		return model.StatusFailed
	}
}

func (r *Runner) execute(ctx context.Context, st *runState) error {
	eligible, err := r.discover(ctx, st)
	if err != nil {
		return err
	}

	pol := policy{mode: st.summary.Mode, deepTrigger: r.cfg.Classifier.EffectiveDeepTrigger()}

	// pendingDeep collects hybrid promotions; their quick results are not
	// persisted, the deep pass supersedes them.
	type pendingDeep struct {
		job       job
		quickConf float64
	}
	var promotions []pendingDeep

	initial := make([]job, len(eligible))
	for i, j := range eligible {
		j.Depth = pol.initialDepth()
		initial[i] = j
	}

	st.phase = phaseFor(pol.initialDepth())
	err = r.runPhase(ctx, st, initial, func(out outcome) error {
		res, raw, inspectErr := r.classifyOutcome(out)

		if pol.initialDepth() == model.DepthQuick && pol.flagsDeep(res, raw) {
			if pol.promotes() {
				deepJob := out.Job
				deepJob.Depth = model.DepthDeep
				promotions = append(promotions, pendingDeep{job: deepJob, quickConf: res.Confidence})
				st.summary.DeepNeeded++
				r.emitProgress(st, out.Job.File.Path)
				return nil
			}
			// Quick mode records the flag; nothing runs deeper.
			return r.persist(ctx, st, out, res, inspectErr, resultFlags{needsDeep: true})
		}

		flags := resultFlags{}
		if out.Job.Depth == model.DepthDeep {
			flags.deepCompleted = true
		}
		return r.persist(ctx, st, out, res, inspectErr, flags)
	})
	if err != nil {
		return err
	}

	if len(promotions) == 0 {
		return ctx.Err()
	}

	deepJobs := make([]job, len(promotions))
	quickConf := make(map[string]float64, len(promotions))
	for i, p := range promotions {
		deepJobs[i] = p.job
		quickConf[p.job.File.Key()] = p.quickConf
	}

	st.phase = model.PhaseDeep
	err = r.runPhase(ctx, st, deepJobs, func(out outcome) error {
		res, _, inspectErr := r.classifyOutcome(out)
		// Keep the quick-pass score on the superseding record for audit.
		res.Indicators = append(res.Indicators, model.Indicator{
			Tag:    classify.QuickConfidenceTag,
			Weight: quickConf[out.Job.File.Key()],
		})
		return r.persist(ctx, st, out, res, inspectErr, resultFlags{needsDeep: true, deepCompleted: true})
	})
	if err != nil {
		return err
	}
	return ctx.Err()
}

// discover walks the tree, applies the skip ladder (resume, incremental,
// probe eligibility), and returns the jobs that need inspection.
func (r *Runner) discover(ctx context.Context, st *runState) ([]job, error) {
	logger := log.WithContext(ctx, r.logger)
	st.phase = model.PhaseDiscovery

	// The walk gets its own cancel so an early return (probe or store
	// failure) releases the walker goroutine instead of stranding it.
	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	candidates, errc := r.walker.Walk(walkCtx, st.root)

	var eligible []job
	for c := range candidates {
		st.summary.Discovered++
		id := c.Identity

		// Resume skip comes first: the previous run already settled this file.
		if st.resume.Skip(id) {
			st.summary.SkippedResumed++
			if err := r.store.Checkpoint(ctx, st.scanID, id); err != nil {
				return nil, fmt.Errorf("carry resume checkpoint: %w", err)
			}
			r.emitProgress(st, id.Path)
			continue
		}

		// Incremental skip happens before any probe so an unchanged healthy
		// file costs zero child processes.
		if r.cfg.Scan.Incremental {
			ok, err := r.store.RecentHealthy(ctx, id, r.cfg.Scan.IncrementalWindow())
			if err != nil {
				return nil, fmt.Errorf("incremental lookup: %w", err)
			}
			if ok {
				st.summary.SkippedRecentHealthy++
				r.emitProgress(st, id.Path)
				continue
			}
		}

		j := job{File: id}
		if r.cfg.Scan.ProbeRequired() {
			probe, err := r.probe(ctx, id)
			if err != nil {
				return nil, err
			}
			if !probe.ScanEligible() {
				st.summary.SkippedIneligible++
				logger.Debug().Str("path", id.Path).Str("reason", probe.FailureReason).
					Msg("file not scan-eligible")
				r.emitProgress(st, id.Path)
				continue
			}
			j.Probe = &probe
		}

		st.summary.Eligible++
		eligible = append(eligible, j)
		r.emitProgress(st, id.Path)
	}

	if err := <-errc; err != nil {
		return nil, fmt.Errorf("walk %s: %w", st.root, err)
	}
	return eligible, ctx.Err()
}

// probe consults the cache before spawning ffprobe and writes fresh results
// back through it.
func (r *Runner) probe(ctx context.Context, id model.FileIdentity) (model.ProbeResult, error) {
	if r.cache != nil {
		if probe, ok := r.cache.Get(id); ok {
			return probe, nil
		}
	}
	probe, err := r.analyzer.Probe(ctx, id)
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("probe %s: %w", id.Path, err)
	}
	if r.cache != nil {
		if err := r.cache.Put(id, probe); err != nil {
			logger := log.WithContext(ctx, r.logger)
			logger.Warn().Err(err).Str("path", id.Path).Msg("probe cache write failed")
		}
	}
	return probe, nil
}

// runPhase pushes jobs through a fresh worker pool and hands each outcome to
// handle on the runner's own goroutine.
func (r *Runner) runPhase(ctx context.Context, st *runState, jobs []job, handle func(outcome) error) error {
	if len(jobs) == 0 {
		return nil
	}

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := newPool(r.analyzer, r.cfg.Pool.MaxWorkers, r.cfg.Pool.EffectiveQueueCapacity())
	results := p.start(phaseCtx)
	go p.submit(phaseCtx, jobs)

	var handleErr error
	for out := range results {
		if handleErr != nil {
			continue // drain
		}
		if err := handle(out); err != nil {
			handleErr = err
			cancel()
		}
	}
	if handleErr != nil {
		return handleErr
	}
	return ctx.Err()
}

// classifyOutcome maps raw analyzer output (or a failure to produce any) to
// a classified result. inspectErr is non-nil when the result was synthesized
// rather than derived from diagnostics.
func (r *Runner) classifyOutcome(out outcome) (classify.Result, model.RawAnalysis, error) {
	switch {
	case out.Err != nil:
		return r.classifier.ErrorResult(), model.RawAnalysis{}, out.Err
	case out.Raw.Timeout:
		return r.classifier.ErrorResult(), out.Raw, errors.New("inspection timed out")
	default:
		return r.classifier.Classify(out.Raw), out.Raw, nil
	}
}

type resultFlags struct {
	needsDeep     bool
	deepCompleted bool
}

func (r *Runner) persist(ctx context.Context, st *runState, out outcome, res classify.Result, inspectErr error, flags resultFlags) error {
	diagnostics := out.Raw.Diagnostics
	if inspectErr != nil && diagnostics == "" {
		diagnostics = inspectErr.Error()
	}

	result := model.InspectionResult{
		Identity:      out.Job.File,
		Verdict:       res.Verdict,
		Confidence:    res.Confidence,
		Mode:          out.Job.Depth,
		Indicators:    res.Indicators,
		Diagnostics:   diagnostics,
		InspectTime:   out.Raw.Duration,
		NeedsDeep:     flags.needsDeep,
		DeepCompleted: flags.deepCompleted,
		Timestamp:     time.Now().UTC(),
		Probe:         out.Job.Probe,
	}

	if err := r.store.AppendResult(ctx, st.scanID, result); err != nil {
		return fmt.Errorf("persist result for %s: %w", out.Job.File.Path, err)
	}

	st.summary.Processed++
	verdictTotal.WithLabelValues(string(res.Verdict)).Inc()
	switch res.Verdict {
	case model.VerdictHealthy:
		st.summary.Healthy++
	case model.VerdictCorrupt:
		st.summary.Corrupt++
	case model.VerdictSuspicious:
		st.summary.Suspicious++
	}
	if flags.deepCompleted {
		st.summary.DeepCompleted++
	}
	if flags.needsDeep && !flags.deepCompleted {
		// Quick mode flags without promoting; hybrid promotions were already
		// counted when they were queued for the deep pass.
		st.summary.DeepNeeded++
	}

	if res.Verdict != model.VerdictHealthy {
		logger := log.WithContext(ctx, r.logger)
		logger.Info().
			Str("path", out.Job.File.Path).
			Str("verdict", string(res.Verdict)).
			Float64("confidence", res.Confidence).
			Str("depth", string(out.Job.Depth)).
			Msg("flagged file")
	}

	r.emitProgress(st, out.Job.File.Path)
	return nil
}

func phaseFor(depth model.Depth) model.Phase {
	if depth == model.DepthDeep {
		return model.PhaseDeep
	}
	return model.PhaseQuick
}

// emitProgress publishes a throttled, non-blocking snapshot.
func (r *Runner) emitProgress(st *runState, currentFile string) {
	if r.Progress == nil || !r.limiter.Allow() {
		return
	}

	elapsed := time.Since(st.started)
	var remaining time.Duration
	if st.summary.Processed > 0 && st.summary.Eligible > st.summary.Processed {
		perFile := elapsed / time.Duration(st.summary.Processed)
		remaining = perFile * time.Duration(st.summary.Eligible-st.summary.Processed)
	}

	p := model.Progress{
		RunID:                st.runID,
		ScanID:               st.scanID,
		Phase:                st.phase,
		Discovered:           st.summary.Discovered,
		Eligible:             st.summary.Eligible,
		Processed:            st.summary.Processed,
		Healthy:              st.summary.Healthy,
		Corrupt:              st.summary.Corrupt,
		Suspicious:           st.summary.Suspicious,
		SkippedIneligible:    st.summary.SkippedIneligible,
		SkippedRecentHealthy: st.summary.SkippedRecentHealthy,
		CurrentFile:          currentFile,
		Elapsed:              elapsed,
		EstimatedRemaining:   remaining,
	}

	select {
	case r.Progress <- p:
	default:
	}
}
