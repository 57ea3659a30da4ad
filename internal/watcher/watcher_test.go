package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/discovery"
	"github.com/seqlab/run-uploader/internal/events"
	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/state"
)

const testSheet = `[Header]
Workflow,GenerateFASTQ

[Reads]
151
151

[Data]
Sample_ID,Sample_Name,Sample_Project,Description
01-1111,01-1111,6,Test
`

// makeRun writes a valid paired run under root/name. finished adds the
// instrument completion marker.
func makeRun(t *testing.T, root, name string, finished bool) string {
	t.Helper()
	dir := filepath.Join(root, name)
	calls := filepath.Join(dir, filepath.FromSlash(constants.SequenceSubdir))
	if err := os.MkdirAll(calls, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, constants.SheetFileName), []byte(testSheet), 0644); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"01-1111_S1_L001_R1_001.fastq.gz", "01-1111_S1_L001_R2_001.fastq.gz"} {
		if err := os.WriteFile(filepath.Join(calls, f), []byte("@r\nACGT\n+\nIIII\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if finished {
		finish(t, dir)
	}
	return dir
}

func finish(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, constants.InstrumentCompleteMarker), nil, 0644); err != nil {
		t.Fatal(err)
	}
}

func saveRecord(t *testing.T, dir string, status models.RunStatus) {
	t.Helper()
	rec := state.NewRecord("run-1")
	rec.Status = status
	if err := state.NewStore(dir).Save(rec); err != nil {
		t.Fatal(err)
	}
}

func testConfig(root string) Config {
	cfg := DefaultConfig(root)
	cfg.PollInterval = 20 * time.Millisecond
	cfg.UseFsnotify = false
	return cfg
}

func TestReadyDirs(t *testing.T) {
	root := t.TempDir()
	ready := makeRun(t, root, "run_ready", true)
	makeRun(t, root, "run_sequencing", false)
	done := makeRun(t, root, "run_done", true)
	if err := state.NewStore(done).MarkComplete(); err != nil {
		t.Fatal(err)
	}
	failed := makeRun(t, root, "run_failed", true)
	saveRecord(t, failed, models.RunStatusError)
	interrupted := makeRun(t, root, "run_interrupted", true)
	saveRecord(t, interrupted, models.RunStatusUploading)
	makeRun(t, filepath.Join(root, "a", "b"), "too_deep", true)
	busy := makeRun(t, root, "run_busy", true)
	lock, err := state.NewStore(busy).Lock()
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Unlock()

	got, err := ReadyDirs(root, discovery.DefaultOptions())
	if err != nil {
		t.Fatalf("ReadyDirs() error = %v", err)
	}
	want := []string{interrupted, ready}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadyDirs() = %v, want %v", got, want)
	}
}

func TestWatcher_HandsOverEachRunOnce(t *testing.T) {
	root := t.TempDir()
	first := makeRun(t, root, "run1", true)

	bus := events.NewEventBus(16)
	defer bus.Close()
	queued := bus.Subscribe(events.EventRunQueued)

	w := New(testConfig(root), WithEventBus(bus))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	var mu sync.Mutex
	var seen []string
	got := make(chan string, 4)
	go Consume(ctx, w.Runs(), func(ctx context.Context, run *models.Run) error {
		mu.Lock()
		seen = append(seen, run.Dir())
		mu.Unlock()
		got <- run.Dir()
		return state.NewStore(run.Dir()).MarkComplete()
	})

	expect := func(dir string) {
		t.Helper()
		select {
		case d := <-got:
			if d != dir {
				t.Fatalf("handed %s, want %s", d, dir)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s was not handed over", dir)
		}
	}
	expect(first)

	second := makeRun(t, root, "run2", true)
	expect(second)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	if len(seen) != 2 {
		t.Errorf("handed over %v, completed runs must not be handed again", seen)
	}
	mu.Unlock()

	select {
	case e := <-queued:
		if e.(*events.RunQueuedEvent).RunDir != first || e.(*events.RunQueuedEvent).Samples != 1 {
			t.Errorf("queued event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no RunQueued event")
	}
}

func TestWatcher_StopWhileHandoffPending(t *testing.T) {
	root := t.TempDir()
	makeRun(t, root, "run1", true)

	w := New(testConfig(root))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on an unconsumed handoff")
	}
	if w.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestWatcher_Restart(t *testing.T) {
	root := t.TempDir()
	w := New(testConfig(root))

	for i := 0; i < 2; i++ {
		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("Start #%d error = %v", i+1, err)
		}
		if err := w.Start(context.Background()); err == nil {
			t.Error("second Start on a running watcher should fail")
		}
		w.Stop()
	}
	w.Stop()

	dir := makeRun(t, root, "run1", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	select {
	case h := <-w.Runs():
		if h.Run.Dir() != dir {
			t.Errorf("handed %s", h.Run.Dir())
		}
		h.Done(nil)
	case <-time.After(2 * time.Second):
		t.Fatal("restarted watcher did not hand over the run")
	}
}

func TestWatcher_RestartDoesNotRepeatRunningUpload(t *testing.T) {
	root := t.TempDir()
	dir := makeRun(t, root, "run1", true)
	w := New(testConfig(root))

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	var h Handoff
	select {
	case h = <-w.Runs():
	case <-time.After(2 * time.Second):
		t.Fatal("run was not handed over")
	}
	// The consumer is uploading: it holds the run lock.
	lock, err := state.NewStore(dir).Lock()
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	noHandoff := func(when string) {
		t.Helper()
		select {
		case again := <-w.Runs():
			again.Done(nil)
			t.Fatalf("%s: %s handed over again", when, again.Run.Dir())
		case <-time.After(150 * time.Millisecond):
		}
	}
	noHandoff("while uploading")

	saveRecord(t, dir, models.RunStatusError)
	lock.Unlock()
	h.Done(errors.New("server error"))
	noHandoff("after the upload failed")
}

func TestWatcher_FailedRunWaitsForSheetChange(t *testing.T) {
	root := t.TempDir()
	dir := makeRun(t, root, "run1", true)

	w := New(testConfig(root))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	count := 0
	recv := func(timeout time.Duration) bool {
		select {
		case h := <-w.Runs():
			count++
			// No resume record is written, as for a missing remote project.
			h.Done(errors.New("project_not_found"))
			return true
		case <-time.After(timeout):
			return false
		}
	}

	if !recv(2 * time.Second) {
		t.Fatal("run not handed over")
	}
	if recv(150 * time.Millisecond) {
		t.Fatal("failed run handed over again before its sheet changed")
	}
	if s := w.Status(); s.Failing != 1 || s.Queued != 1 {
		t.Errorf("status = %+v", s)
	}

	later := time.Now().Add(time.Second)
	if err := os.Chtimes(filepath.Join(dir, constants.SheetFileName), later, later); err != nil {
		t.Fatal(err)
	}
	if !recv(2 * time.Second) {
		t.Fatal("edited run not retried")
	}
	if count != 2 {
		t.Errorf("handed over %d times, want 2", count)
	}
}

func TestConsume_StopsWithContext(t *testing.T) {
	runs := make(chan Handoff)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- Consume(ctx, runs, func(ctx context.Context, run *models.Run) error { return nil })
	}()

	h := Handoff{Run: &models.Run{}, done: make(chan error, 1)}
	runs <- h
	if err := <-h.done; err != nil {
		t.Errorf("Done(%v), want nil", err)
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Consume() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Consume did not return")
	}
}

func TestConsume_UploadOutlivesCancellation(t *testing.T) {
	runs := make(chan Handoff)
	ctx, cancel := context.WithCancel(context.Background())

	go Consume(ctx, runs, func(uctx context.Context, run *models.Run) error {
		cancel()
		time.Sleep(20 * time.Millisecond)
		return uctx.Err()
	})

	h := Handoff{Run: &models.Run{}, done: make(chan error, 1)}
	runs <- h
	if err := <-h.done; err != nil {
		t.Errorf("upload context cancelled with the consumer: %v", err)
	}
}
