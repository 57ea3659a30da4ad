// Package watcher polls a directory tree for finished instrument runs and
// hands each one to a consumer for upload.
//
// A run is ready once the instrument has written its completion marker and
// the uploader has not. Discovery happens on the watcher goroutine; the run is
// then passed over an unbuffered channel and the watcher waits for the
// consumer to report back before scanning further, so a directory is never
// discovered while it is being uploaded.
package watcher

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/discovery"
	"github.com/seqlab/run-uploader/internal/events"
	"github.com/seqlab/run-uploader/internal/logging"
	"github.com/seqlab/run-uploader/internal/models"
)

// Config holds watcher configuration.
type Config struct {
	// Root is the directory the instrument writes runs into.
	Root string

	// PollInterval is how often Root is scanned.
	PollInterval time.Duration

	// Discovery controls sheet name, sequence location and search depth.
	Discovery discovery.Options

	// UseFsnotify wakes the loop early when a completion marker appears.
	UseFsnotify bool
}

// DefaultConfig returns a configuration watching root with the defaults.
func DefaultConfig(root string) Config {
	return Config{
		Root:         root,
		PollInterval: constants.DefaultPollInterval,
		Discovery:    discovery.DefaultOptions(),
		UseFsnotify:  true,
	}
}

// Handoff carries one ready run to the consumer. The consumer must call
// Done exactly once.
type Handoff struct {
	Run  *models.Run
	done chan error
}

// Done reports the upload outcome back to the watcher.
func (h Handoff) Done(err error) {
	h.done <- err
}

// Watcher is the background scanner. Start and Stop may be called repeatedly.
type Watcher struct {
	cfg     Config
	bus     *events.EventBus
	log     zerolog.Logger
	handoff chan Handoff

	// failed remembers runs that could not be loaded or uploaded, keyed by
	// directory, with the sheet modification time at the failure. They are
	// retried once the sheet changes.
	failed map[string]time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	stopped  chan struct{}
	lastPoll time.Time
	queued   int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithEventBus publishes a RunQueued event for every handed-over run.
func WithEventBus(bus *events.EventBus) Option {
	return func(w *Watcher) { w.bus = bus }
}

// WithLogger logs through l instead of the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) { w.log = l.Zerolog() }
}

// New creates a stopped watcher.
func New(cfg Config, opts ...Option) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	d := discovery.DefaultOptions()
	if cfg.Discovery.SheetName == "" {
		cfg.Discovery.SheetName = d.SheetName
	}
	if cfg.Discovery.SequenceSubdir == "" {
		cfg.Discovery.SequenceSubdir = d.SequenceSubdir
	}
	if cfg.Discovery.MaxDepth <= 0 {
		cfg.Discovery.MaxDepth = d.MaxDepth
	}
	w := &Watcher{
		cfg:     cfg,
		log:     log.Logger,
		handoff: make(chan Handoff),
		failed:  map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With().Str("component", "watcher").Logger()
	return w
}

// Runs returns the handoff channel. It stays the same across restarts.
func (w *Watcher) Runs() <-chan Handoff {
	return w.handoff
}

// Start launches the polling goroutine. The first scan happens immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher is already running")
	}

	var wake <-chan struct{}
	var notifier *notifier
	if w.cfg.UseFsnotify {
		n, err := newNotifier(w.cfg.Root, w.log)
		if err != nil {
			w.log.Warn().Err(err).Msg("File notifications unavailable, polling only")
		} else {
			notifier = n
			wake = n.wake
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	w.running = true

	w.log.Info().
		Str("root", w.cfg.Root).
		Str("poll_interval", w.cfg.PollInterval.String()).
		Bool("fsnotify", notifier != nil).
		Msg("Watcher starting")

	go w.loop(ctx, wake, notifier, w.stopped)
	return nil
}

// Stop cancels the polling goroutine and waits for it to exit. A run handed
// to the consumer keeps uploading; the watcher just stops waiting for it.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, stopped := w.cancel, w.stopped
	w.mu.Unlock()

	cancel()
	<-stopped
	w.log.Info().Msg("Watcher stopped")
}

// IsRunning reports whether the polling goroutine is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context, wake <-chan struct{}, n *notifier, stopped chan struct{}) {
	defer close(stopped)
	if n != nil {
		defer n.close()
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
			w.log.Debug().Msg("Woken by file notification")
		}
	}
}

// poll scans once and hands over every ready run in turn.
func (w *Watcher) poll(ctx context.Context) {
	dirs, err := ReadyDirs(w.cfg.Root, w.cfg.Discovery)
	w.mu.Lock()
	w.lastPoll = time.Now()
	w.mu.Unlock()
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to scan watch directory")
		return
	}

	for _, dir := range dirs {
		if ctx.Err() != nil {
			return
		}
		if w.stillFailing(dir) {
			continue
		}

		run, err := discovery.FindRun(dir, w.cfg.Discovery)
		if err != nil {
			w.log.Error().Err(err).Str("run", dir).Msg("Run is not uploadable")
			w.markFailed(dir)
			continue
		}

		if err := w.hand(ctx, run); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Str("run", dir).Msg("Run upload failed")
			w.markFailed(dir)
			continue
		}
		w.mu.Lock()
		delete(w.failed, dir)
		w.mu.Unlock()
	}
}

// hand passes run to the consumer and waits for its result.
func (w *Watcher) hand(ctx context.Context, run *models.Run) error {
	h := Handoff{Run: run, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.handoff <- h:
	}

	w.mu.Lock()
	w.queued++
	w.mu.Unlock()
	w.log.Info().Str("run", run.Dir()).Int("samples", len(run.Samples())).Msg("Run handed over for upload")
	w.bus.PublishRunQueued(run.Dir(), len(run.Samples()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-h.done:
		return err
	}
}

func (w *Watcher) stillFailing(dir string) bool {
	w.mu.Lock()
	at, ok := w.failed[dir]
	w.mu.Unlock()
	if !ok {
		return false
	}
	mod, err := sheetModTime(dir, w.cfg.Discovery.SheetName)
	return err == nil && !mod.After(at)
}

func (w *Watcher) markFailed(dir string) {
	mod, err := sheetModTime(dir, w.cfg.Discovery.SheetName)
	if err != nil {
		mod = time.Now()
	}
	w.mu.Lock()
	w.failed[dir] = mod
	w.mu.Unlock()
}

// Consume runs fn for every handoff until ctx ends. fn gets a context that is
// not cancelled with ctx, so a started upload runs to its end.
func Consume(ctx context.Context, runs <-chan Handoff, fn func(context.Context, *models.Run) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h, ok := <-runs:
			if !ok {
				return nil
			}
			h.Done(fn(context.WithoutCancel(ctx), h.Run))
		}
	}
}

// Status is a point-in-time view of the watcher.
type Status struct {
	Running      bool
	Root         string
	PollInterval time.Duration
	LastPoll     time.Time
	Queued       int
	Failing      int
}

// Status returns the watcher's current status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Running:      w.running,
		Root:         w.cfg.Root,
		PollInterval: w.cfg.PollInterval,
		LastPoll:     w.lastPoll,
		Queued:       w.queued,
		Failing:      len(w.failed),
	}
}

// WriteStatus writes s in human-readable form.
func (s Status) WriteStatus(w io.Writer) {
	fmt.Fprintf(w, "Watcher Status:\n")
	if s.Running {
		fmt.Fprintf(w, "  Running: Yes\n")
	} else {
		fmt.Fprintf(w, "  Running: No\n")
	}
	if !s.LastPoll.IsZero() {
		fmt.Fprintf(w, "  Last Poll: %s\n", s.LastPoll.Format(time.RFC3339))
	} else {
		fmt.Fprintf(w, "  Last Poll: Never\n")
	}
	fmt.Fprintf(w, "  Runs Handed Over: %d\n", s.Queued)
	fmt.Fprintf(w, "  Runs Failing: %d\n", s.Failing)
	fmt.Fprintf(w, "  Watch Directory: %s\n", s.Root)
	fmt.Fprintf(w, "  Poll Interval: %s\n", s.PollInterval)
}
