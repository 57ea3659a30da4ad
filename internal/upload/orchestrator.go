// Package upload drives one run through the remote run lifecycle:
// validate projects, create or resume the remote run, transfer every pending
// sample in sheet order, and settle the run as COMPLETE or ERROR.
//
// The resume record in the run directory is updated after every sample the
// server confirms, so an interrupted upload continues where it stopped.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/seqlab/run-uploader/internal/api"
	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/events"
	"github.com/seqlab/run-uploader/internal/logging"
	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/progress"
	"github.com/seqlab/run-uploader/internal/state"
	"github.com/seqlab/run-uploader/internal/uploaderr"
	"github.com/seqlab/run-uploader/internal/validation"
)

// Result describes the outcome of Upload.
type Result struct {
	RunDir string
	RunID  string
	Status models.RunStatus

	// Uploaded lists every sample the server has confirmed, including those
	// recorded by earlier attempts.
	Uploaded []string
	// Skipped lists samples not transferred because an earlier attempt had
	// already uploaded them.
	Skipped []string

	Bytes    int64
	Duration time.Duration
}

// Orchestrator uploads runs through a Gateway.
type Orchestrator struct {
	gateway api.Gateway
	bus     *events.EventBus
	log     zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEventBus publishes state changes, per-sample logs and progress on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithLogger logs through l instead of the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l.Zerolog() }
}

// New creates an orchestrator for gateway.
func New(gateway api.Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{gateway: gateway, log: log.Logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// attempt holds the state of one Upload call.
type attempt struct {
	o      *Orchestrator
	run    *models.Run
	store  *state.Store
	rec    *state.ResumeRecord
	online *validation.Online
	log    zerolog.Logger
	result *Result
	start  time.Time
}

// Upload transfers run. observer, when non-nil, receives progress for the
// bytes of the samples still to send.
//
// Errors before the remote run exists (missing project, locked directory)
// leave no trace remotely. A failure afterwards patches the remote run to
// ERROR, persists the record with status ERROR and returns a remote_transfer
// error whose Uploaded field lists the confirmed samples.
func (o *Orchestrator) Upload(ctx context.Context, run *models.Run, observer progress.Observer) (*Result, error) {
	a := &attempt{
		o:      o,
		run:    run,
		store:  state.NewStore(run.Dir()),
		online: validation.NewOnline(o.gateway),
		log:    o.log.With().Str("run", run.Dir()).Logger(),
		result: &Result{RunDir: run.Dir()},
		start:  time.Now(),
	}

	if err := a.online.CheckProjects(ctx, run); err != nil {
		return a.result, err
	}

	lock, err := a.store.Lock()
	if err != nil {
		return a.result, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	done, err := a.begin(ctx)
	if err != nil || done {
		return a.result, err
	}

	pending := a.pending()
	total, err := progress.TotalSize(filesOf(pending))
	if err != nil {
		return a.result, a.fail(ctx, "", err)
	}
	if o.bus != nil {
		observer = progress.Multi(observer, progress.NewEventObserver(o.bus, run.Dir()))
	}
	monitor := progress.NewMonitor(total, observer)

	for _, s := range pending {
		if err := ctx.Err(); err != nil {
			return a.result, a.fail(ctx, s.Name, fmt.Errorf("upload cancelled: %w", err))
		}
		if err := a.sendSample(ctx, s, monitor); err != nil {
			return a.result, a.fail(ctx, s.Name, err)
		}
	}
	a.result.Bytes = monitor.Snapshot().TransferredBytes

	if err := a.complete(ctx); err != nil {
		return a.result, a.fail(ctx, "", err)
	}
	return a.result, nil
}

// begin loads or creates the resume record. done is true when the run had
// already been completed.
func (a *attempt) begin(ctx context.Context) (done bool, err error) {
	rec, err := a.store.Load()
	if err != nil {
		return false, err
	}

	switch {
	case rec == nil:
		runID, err := a.o.gateway.CreateRun(ctx, a.run.Metadata())
		if err != nil {
			return false, uploaderr.Wrap(uploaderr.KindRemoteTransfer, err, "could not create remote run")
		}
		rec = state.NewRecord(runID)
		if err := a.store.Save(rec); err != nil {
			return false, err
		}
		a.log.Info().Str("run_id", runID).Int("samples", len(a.run.Samples())).Msg("Created remote run")
		a.o.bus.PublishStateChange(a.run.Dir(), runID, "", string(models.RunStatusUploading), "")

	case rec.Status == models.RunStatusComplete:
		a.rec = rec
		a.result.RunID = rec.RunID
		a.result.Status = models.RunStatusComplete
		a.result.Uploaded = append([]string(nil), rec.UploadedSamples...)
		if !a.store.IsComplete() {
			if err := a.store.MarkComplete(); err != nil {
				return true, err
			}
		}
		a.log.Info().Str("run_id", rec.RunID).Msg("Run already uploaded")
		return true, nil

	case rec.Status == models.RunStatusError:
		if err := a.o.gateway.SetRunStatus(ctx, rec.RunID, models.RunStatusUploading); err != nil {
			return false, uploaderr.Wrap(uploaderr.KindRemoteTransfer, err, "could not reopen run %s", rec.RunID)
		}
		rec.Status = models.RunStatusUploading
		if err := a.store.Save(rec); err != nil {
			return false, err
		}
		a.log.Info().Str("run_id", rec.RunID).Strs("uploaded", rec.UploadedSamples).Msg("Resuming failed run")
		a.o.bus.PublishStateChange(a.run.Dir(), rec.RunID, string(models.RunStatusError), string(models.RunStatusUploading), "")

	default:
		a.log.Info().Str("run_id", rec.RunID).Strs("uploaded", rec.UploadedSamples).Msg("Resuming interrupted run")
	}

	a.rec = rec
	a.result.RunID = rec.RunID
	a.result.Status = rec.Status
	return false, nil
}

// pending returns the samples not yet recorded, in sheet order, and fills
// Result.Skipped with the others.
func (a *attempt) pending() []*models.Sample {
	skip := a.rec.SkipSet()
	var out []*models.Sample
	for _, s := range a.run.Samples() {
		if skip[s.Name] {
			a.result.Skipped = append(a.result.Skipped, s.Name)
			a.log.Info().Str("sample", s.Name).Msg("Skipping sample uploaded by an earlier attempt")
			a.o.bus.PublishLog(events.InfoLevel, a.run.Dir(), s.Name, "already uploaded, skipped", nil)
			continue
		}
		out = append(out, s)
	}
	return out
}

// sendSample makes sure the sample exists remotely, transfers its files and
// records it once the server has stored every file.
func (a *attempt) sendSample(ctx context.Context, s *models.Sample, monitor *progress.Monitor) error {
	if err := a.ensureSample(ctx, s); err != nil {
		return err
	}

	res, err := a.o.gateway.UploadSequenceFiles(ctx, a.rec.RunID, s, s.Files, monitor)
	if err != nil {
		return err
	}
	if res.StatusCode != 201 {
		return fmt.Errorf("server answered %d instead of 201", res.StatusCode)
	}
	if len(res.Files) != len(s.Files) {
		a.rec.RemoveSample(s.Name)
		return fmt.Errorf("server stored %d of %d files", len(res.Files), len(s.Files))
	}

	a.rec.AddSample(s.Name)
	if err := a.store.Save(a.rec); err != nil {
		return err
	}
	a.log.Info().Str("sample", s.Name).Int("files", len(s.Files)).Msg("Sample uploaded")
	a.o.bus.PublishSampleUploaded(a.run.Dir(), a.rec.RunID, s.Name, len(s.Files))
	return nil
}

func (a *attempt) ensureSample(ctx context.Context, s *models.Sample) error {
	existing, err := a.online.FindSample(ctx, s.ProjectID, s.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	created, err := a.o.gateway.CreateSamples(ctx, s.ProjectID, []*models.Sample{s})
	if err != nil {
		if api.IsAlreadyExists(err) {
			return nil
		}
		return err
	}
	for _, rs := range created {
		a.online.Remember(s.ProjectID, rs)
	}
	a.log.Debug().Str("sample", s.Name).Str("project", s.ProjectID).Msg("Created remote sample")
	return nil
}

func (a *attempt) complete(ctx context.Context) error {
	if err := a.o.gateway.SetRunStatus(ctx, a.rec.RunID, models.RunStatusComplete); err != nil {
		return err
	}
	a.rec.Status = models.RunStatusComplete
	if err := a.store.Save(a.rec); err != nil {
		return err
	}
	if err := a.store.MarkComplete(); err != nil {
		return err
	}

	a.result.Status = models.RunStatusComplete
	a.result.Uploaded = append([]string(nil), a.rec.UploadedSamples...)
	a.result.Duration = time.Since(a.start)
	a.log.Info().Str("run_id", a.rec.RunID).Int("samples", len(a.rec.UploadedSamples)).
		Dur("duration", a.result.Duration.Round(time.Second)).Msg("Run upload complete")
	a.o.bus.PublishStateChange(a.run.Dir(), a.rec.RunID, string(models.RunStatusUploading), string(models.RunStatusComplete), "")
	return nil
}

// fail settles the run as ERROR locally and remotely and returns the
// remote_transfer error for cause. The status patch uses a fresh context so
// a cancelled upload still reports ERROR.
func (a *attempt) fail(ctx context.Context, sample string, cause error) error {
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.APIContextTimeout)
	defer cancel()
	if err := a.o.gateway.SetRunStatus(statusCtx, a.rec.RunID, models.RunStatusError); err != nil {
		a.log.Warn().Err(err).Msg("Failed to mark remote run as ERROR")
	}

	a.rec.Status = models.RunStatusError
	if err := a.store.Save(a.rec); err != nil {
		a.log.Error().Err(err).Msg("Failed to persist resume record")
	}

	a.result.Status = models.RunStatusError
	a.result.Uploaded = append([]string(nil), a.rec.UploadedSamples...)
	a.result.Duration = time.Since(a.start)

	detail := "run failed"
	if sample != "" {
		detail = "sample " + sample
	}
	err := uploaderr.Wrap(uploaderr.KindRemoteTransfer, cause, "%s", detail)
	err.Uploaded = a.result.Uploaded

	a.log.Error().Err(cause).Str("sample", sample).Strs("uploaded", err.Uploaded).Msg("Run upload failed")
	a.o.bus.PublishLog(events.ErrorLevel, a.run.Dir(), sample, "upload failed", cause)
	a.o.bus.PublishStateChange(a.run.Dir(), a.rec.RunID, string(models.RunStatusUploading), string(models.RunStatusError), err.Error())
	return err
}

func filesOf(samples []*models.Sample) []string {
	var files []string
	for _, s := range samples {
		files = append(files, s.Files...)
	}
	return files
}

// PendingBytes returns the size of the files of run's samples that no
// earlier attempt has uploaded.
func PendingBytes(run *models.Run) (int64, error) {
	rec, err := state.NewStore(run.Dir()).Load()
	if err != nil {
		return 0, err
	}
	var skip map[string]bool
	if rec != nil {
		if rec.Status == models.RunStatusComplete {
			return 0, nil
		}
		skip = rec.SkipSet()
	}
	var pending []*models.Sample
	for _, s := range run.Samples() {
		if !skip[s.Name] {
			pending = append(pending, s)
		}
	}
	return progress.TotalSize(filesOf(pending))
}

// IsRetryable reports whether err leaves the run resumable by a later call.
func IsRetryable(err error) bool {
	return errors.Is(err, uploaderr.ErrRemoteTransfer) || errors.Is(err, uploaderr.ErrRunLocked)
}
