package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/seqlab/run-uploader/internal/config"
	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/events"
	"github.com/seqlab/run-uploader/internal/logging"
	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/progress"
	"github.com/seqlab/run-uploader/internal/upload"
	"github.com/seqlab/run-uploader/internal/watcher"
)

// newWatchCmd creates the 'watch' command.
func newWatchCmd() *cobra.Command {
	var (
		pollInterval string
		noFsnotify   bool
	)

	cmd := &cobra.Command{
		Use:   "watch [directory]",
		Short: "Upload runs as the instrument finishes them",
		Long: `Watch a directory for sequencing runs and upload each one once the
instrument has written ` + constants.InstrumentCompleteMarker + `.

Runs whose last upload failed are not retried automatically; resume them
with 'run-uploader upload <run>'. Runs that failed validation are retried
after their sample sheet changes.

Press Ctrl+C to stop. A run being uploaded finishes first.

Examples:
  run-uploader watch /data/miseq
  run-uploader watch --poll-interval 2m`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			if len(args) == 1 {
				cfg.Uploader.WatchDirectory = args[0]
			}
			if err := cfg.ValidateWatch(); err != nil {
				return err
			}
			root, err := filepath.Abs(cfg.Uploader.WatchDirectory)
			if err != nil {
				return err
			}

			interval := cfg.PollInterval()
			if pollInterval != "" {
				interval, err = time.ParseDuration(pollInterval)
				if err != nil {
					return fmt.Errorf("invalid poll interval %q: %w", pollInterval, err)
				}
			}
			if interval < constants.MinPollInterval {
				return fmt.Errorf("poll interval must be at least %s", constants.MinPollInterval)
			}

			// The watcher is long-running; keep a log file even when none is configured.
			if cfg.Logging.File == "" {
				cfg.Logging.File = config.DefaultLogFile()
				_ = GetLogger().Close()
				logger = logging.NewLogger(logging.Options{File: cfg.Logging.File, Verbose: cfg.Logging.Verbose})
			}
			log := GetLogger()

			ctx := GetContext()
			client, err := getAPIClient(ctx, cfg)
			if err != nil {
				return err
			}

			bus := events.NewEventBus(256)
			defer bus.Close()
			tally := newRunTally(bus)

			wcfg := watcher.Config{
				Root:         root,
				PollInterval: interval,
				Discovery:    discoveryOptions(cfg),
				UseFsnotify:  cfg.Uploader.UseFsnotify && !noFsnotify,
			}
			w := watcher.New(wcfg, watcher.WithEventBus(bus), watcher.WithLogger(log))
			if err := w.Start(ctx); err != nil {
				return err
			}

			orch := upload.New(client, upload.WithEventBus(bus), upload.WithLogger(log))
			err = watcher.Consume(ctx, w.Runs(), func(uctx context.Context, run *models.Run) error {
				observer := progress.NewTextObserver(log.Output(), filepath.Base(run.Dir()), 10)
				_, err := orch.Upload(uctx, run, observer)
				return err
			})
			w.Stop()
			tally.stop()

			fmt.Fprintln(cmd.OutOrStdout())
			w.Status().WriteStatus(cmd.OutOrStdout())
			completed, failed := tally.counts()
			fmt.Fprintf(cmd.OutOrStdout(), "  Runs Completed: %d\n  Runs Failed: %d\n", completed, failed)

			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&pollInterval, "poll-interval", "", "How often to scan, e.g. 30s or 2m (overrides config)")
	cmd.Flags().BoolVar(&noFsnotify, "no-fsnotify", false, "Poll only, without file notifications")
	return cmd
}

// runTally counts run outcomes from state change events.
type runTally struct {
	ch        <-chan events.Event
	bus       *events.EventBus
	done      chan struct{}
	mu        sync.Mutex
	completed int
	failed    int
}

func newRunTally(bus *events.EventBus) *runTally {
	t := &runTally{ch: bus.Subscribe(events.EventStateChange), bus: bus, done: make(chan struct{})}
	go t.run()
	return t
}

func (t *runTally) run() {
	defer close(t.done)
	for e := range t.ch {
		sc, ok := e.(*events.StateChangeEvent)
		if !ok {
			continue
		}
		t.mu.Lock()
		switch models.RunStatus(sc.NewStatus) {
		case models.RunStatusComplete:
			t.completed++
		case models.RunStatusError:
			t.failed++
		}
		t.mu.Unlock()
	}
}

func (t *runTally) stop() {
	t.bus.Unsubscribe(t.ch)
	<-t.done
}

func (t *runTally) counts() (completed, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.failed
}
