// Package transfer downloads and installs blockchain snapshot archives.
//
// A job runs Downloading → Extracting → Complete, or ends in Failed. At
// most one job is active; starting a new one supersedes the old, whose
// late results are discarded by generation.
package transfer

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nine-chronicles/launcher/internal/daemon/bus"
)

// Poster schedules work on the control loop.
type Poster interface {
	Post(fn func()) bool
}

// Publisher receives pipeline events.
type Publisher interface {
	Publish(ev bus.Event) bus.Event
}

// Options configures a Pipeline.
type Options struct {
	Loop      Poster
	Opener    Opener
	Publisher Publisher

	// OnFinish is called on the control loop when a current job reaches
	// Complete or Failed.
	OnFinish func(Job)
}

// Pipeline runs transfer jobs. All methods must be called from the
// control loop.
type Pipeline struct {
	loop     Poster
	opener   Opener
	pub      Publisher
	onFinish func(Job)
	extract  func(ctx context.Context, archive, dest string, progress func(float64)) error
	logger   zerolog.Logger

	gen    uint64
	job    *Job
	cancel context.CancelFunc
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{
		loop:     opts.Loop,
		opener:   opts.Opener,
		pub:      opts.Publisher,
		onFinish: opts.OnFinish,
		extract:  extract,
		logger:   log.With().Str("component", "transfer").Logger(),
	}
}

// SetOpener replaces the source used by jobs started after this call.
func (p *Pipeline) SetOpener(o Opener) {
	p.opener = o
}

// Start supersedes any active job and begins a new one.
func (p *Pipeline) Start(req Request) Job {
	if p.job != nil && p.job.Phase.Active() {
		p.logger.Info().Str("job", p.job.ID).Msg("superseding active transfer")
	}
	p.abort()

	ctx, cancel := context.WithCancel(context.Background())
	p.gen++
	p.cancel = cancel
	p.job = &Job{
		ID:          uuid.New().String(),
		Generation:  p.gen,
		Source:      req.Source,
		DownloadDir: req.DownloadDir,
		ExtractDir:  req.ExtractDir,
		Phase:       PhaseDownloading,
		StartedAt:   time.Now().UTC(),
	}

	p.logger.Info().Str("job", p.job.ID).Str("source", req.Source).Msg("transfer started")
	go p.run(ctx, *p.job, p.opener)
	return *p.job
}

// Cancel aborts the active job without emitting a terminal event.
func (p *Pipeline) Cancel() {
	if p.job != nil && p.job.Phase.Active() {
		p.logger.Info().Str("job", p.job.ID).Msg("transfer cancelled")
		p.job.Phase = PhaseIdle
	}
	p.abort()
}

func (p *Pipeline) abort() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
}

// Current returns the most recent job, if any.
func (p *Pipeline) Current() (Job, bool) {
	if p.job == nil {
		return Job{}, false
	}
	return *p.job, true
}

// Busy reports whether a job is downloading or extracting.
func (p *Pipeline) Busy() bool {
	return p.job != nil && p.job.Phase.Active()
}

// run executes the job on its own goroutine. Every state change is
// posted back to the control loop tagged with the job's generation.
func (p *Pipeline) run(ctx context.Context, job Job, opener Opener) {
	gen := job.Generation

	name := job.ID + "-" + ArchiveName(job.Source)
	archive, err := download(ctx, opener, job.Source, job.DownloadDir, name, func(f float64) {
		p.post(gen, func(j *Job) { p.progress(j, PhaseDownloading, bus.EventDownloadProgress, f) })
	})
	if err != nil {
		p.post(gen, func(j *Job) { p.fail(j, PhaseDownloading, err) })
		return
	}

	p.post(gen, func(j *Job) {
		j.ArchivePath = archive
		j.Phase = PhaseExtracting
		j.Progress = 0
		p.pub.Publish(bus.Event{Kind: bus.EventDownloadComplete, JobID: j.ID, Path: archive})
	})

	err = p.extract(ctx, archive, job.ExtractDir, func(f float64) {
		p.post(gen, func(j *Job) { p.progress(j, PhaseExtracting, bus.EventExtractProgress, f) })
	})
	// Each job owns its archive; it is removed on every outcome.
	p.removeArchive(archive)
	if err != nil {
		p.post(gen, func(j *Job) { p.fail(j, PhaseExtracting, err) })
		return
	}
	if ctx.Err() != nil {
		return
	}

	p.post(gen, func(j *Job) {
		j.Phase = PhaseComplete
		j.Progress = 1
		j.FinishedAt = time.Now().UTC()
		p.logger.Info().Str("job", j.ID).Msg("transfer complete")
		p.pub.Publish(bus.Event{Kind: bus.EventExtractComplete, JobID: j.ID})
		p.finish(j)
	})
}

func (p *Pipeline) removeArchive(archive string) {
	if err := os.Remove(archive); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn().Err(err).Str("archive", archive).Msg("failed to delete archive")
	}
}

// post runs fn on the control loop if gen is still the current job.
func (p *Pipeline) post(gen uint64, fn func(*Job)) {
	p.loop.Post(func() {
		if p.job == nil || p.job.Generation != gen || gen != p.gen {
			return
		}
		fn(p.job)
	})
}

func (p *Pipeline) progress(j *Job, phase Phase, kind bus.EventKind, f float64) {
	if j.Phase != phase || f < j.Progress {
		return
	}
	j.Progress = f
	p.pub.Publish(bus.Event{Kind: kind, JobID: j.ID, Fraction: f})
}

func (p *Pipeline) fail(j *Job, phase Phase, err error) {
	terr := &TransferError{Phase: phase, Err: err}
	j.Phase = PhaseFailed
	j.Err = terr
	j.FinishedAt = time.Now().UTC()

	p.logger.Error().Err(err).Str("job", j.ID).Str("phase", string(phase)).Msg("transfer failed")
	p.pub.Publish(bus.Event{Kind: bus.EventTransferFailed, JobID: j.ID, Phase: string(phase), Error: err.Error()})
	p.finish(j)
}

func (p *Pipeline) finish(j *Job) {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.onFinish != nil {
		p.onFinish(*j)
	}
}
