package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// RunBars draws one progress bar per concurrently uploading run using mpb.
// When stderr is not a terminal the bars are replaced by start and finish lines.
type RunBars struct {
	progress   *mpb.Progress
	isTerminal bool
	totalRuns  int
	started    int32
	out        io.Writer
	mu         sync.Mutex // serialises non-terminal output
}

// RunBar is the bar of one run. It implements Observer.
type RunBar struct {
	bars      *RunBars
	bar       *mpb.Bar
	index     int
	label     string
	total     int64
	startTime time.Time

	// written only by the run's upload goroutine
	lastUpdate time.Time
	lastBytes  int64
}

// NewRunBars prepares bars for totalRuns runs.
func NewRunBars(totalRuns int) *RunBars {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		enableANSI(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &RunBars{
		progress:   p,
		isTerminal: isTerminal,
		totalRuns:  totalRuns,
		out:        os.Stderr,
	}
}

// AddRun creates the bar for the run in runDir transferring total bytes.
func (u *RunBars) AddRun(runDir string, total int64) *RunBar {
	index := int(atomic.AddInt32(&u.started, 1))
	now := time.Now()
	rb := &RunBar{
		bars:       u,
		index:      index,
		label:      shortPath(runDir, 2),
		total:      total,
		startTime:  now,
		lastUpdate: now,
	}

	if u.isTerminal {
		rb.bar = u.progress.New(total,
			mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("[%d/%d] %s", rb.index, u.totalRuns, rb.label), decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
				decor.Name("  ETA "),
				decor.EwmaETA(decor.ET_STYLE_GO, 30),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		u.println(fmt.Sprintf("Uploading [%d/%d]: %s (%s)", rb.index, u.totalRuns, rb.label, humanize.IBytes(uint64(total))))
	}
	return rb
}

// OnProgress advances the bar. The byte delta and elapsed time feed mpb's
// EWMA speed and ETA decorators.
func (b *RunBar) OnProgress(s Snapshot) {
	if b.bar == nil {
		return
	}
	now := time.Now()
	delta := s.TransferredBytes - b.lastBytes
	if delta <= 0 {
		return
	}
	b.bar.EwmaIncrInt64(delta, now.Sub(b.lastUpdate))
	b.lastBytes = s.TransferredBytes
	b.lastUpdate = now
}

// Complete finishes the bar and prints a summary line above the bars.
func (b *RunBar) Complete(summary string, err error) {
	elapsed := time.Since(b.startTime).Round(time.Second)
	var msg string
	if err == nil {
		if b.bar != nil {
			b.bar.SetCurrent(b.total)
			b.bar.SetTotal(b.total, true)
		}
		msg = fmt.Sprintf("✓ %s: %s (%s, %s)", b.label, summary, humanize.IBytes(uint64(b.total)), elapsed)
	} else {
		if b.bar != nil {
			b.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s: %v", b.label, err)
	}
	b.bars.println(msg)
}

func (u *RunBars) println(msg string) {
	if u.isTerminal {
		fmt.Fprintln(u.progress, msg)
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintln(u.out, msg)
}

// Wait blocks until every bar has completed or aborted.
func (u *RunBars) Wait() {
	u.progress.Wait()
}

// Writer returns an io.Writer that prints above the bars.
func (u *RunBars) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal reports whether bars are being drawn.
func (u *RunBars) IsTerminal() bool {
	return u.isTerminal
}

// shortPath keeps the last n components of path.
// Example: shortPath("/a/b/c/run1", 2) → "…/c/run1"
func shortPath(path string, n int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= n {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-n:], "/")
}
