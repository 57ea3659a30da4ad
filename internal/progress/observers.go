package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/seqlab/run-uploader/internal/events"
)

// FormatSnapshot renders s as one human-readable line.
func FormatSnapshot(s Snapshot) string {
	line := fmt.Sprintf("%5.1f%%  %s / %s", s.RunPercent,
		humanize.IBytes(uint64(s.TransferredBytes)), humanize.IBytes(uint64(s.TotalBytes)))
	if s.BytesPerSecond > 0 {
		line += fmt.Sprintf("  %s/s", humanize.IBytes(uint64(s.BytesPerSecond)))
	}
	if s.ETA > 0 {
		line += "  ETA " + s.ETA.Round(time.Second).String()
	}
	return line
}

// CLIProgress draws a single progress bar for one run on stderr.
type CLIProgress struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a bar for a run transfer of total bytes.
func NewCLIProgress(total int64, description string) *CLIProgress {
	return &CLIProgress{
		bar: progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
		),
	}
}

// OnProgress moves the bar to the transferred byte count.
func (p *CLIProgress) OnProgress(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Set64(s.TransferredBytes)
}

// SetDescription updates the label, typically with the current sample.
func (p *CLIProgress) SetDescription(desc string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Describe(desc)
}

// Finish completes or abandons the bar depending on err.
func (p *CLIProgress) Finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		_ = p.bar.Exit()
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		return
	}
	_ = p.bar.Finish()
}

// EventObserver publishes updates as events.ProgressEvent.
type EventObserver struct {
	bus    *events.EventBus
	runDir string
}

// NewEventObserver publishes progress of the run in runDir on bus.
func NewEventObserver(bus *events.EventBus, runDir string) *EventObserver {
	return &EventObserver{bus: bus, runDir: runDir}
}

func (o *EventObserver) OnProgress(s Snapshot) {
	o.bus.PublishProgress(events.ProgressEvent{
		RunDir:         o.runDir,
		FileProgress:   s.FilePercent,
		RunProgress:    s.RunPercent,
		BytesCurrent:   s.TransferredBytes,
		BytesTotal:     s.TotalBytes,
		BytesPerSecond: s.BytesPerSecond,
		ETA:            s.ETA,
	})
}

// TextObserver prints a line every time the run crosses another step
// percent. Used when stderr is not a terminal.
type TextObserver struct {
	w     io.Writer
	label string
	step  float64
	next  float64
}

// NewTextObserver writes to w; step <= 0 means every 10 percent.
func NewTextObserver(w io.Writer, label string, step float64) *TextObserver {
	if step <= 0 {
		step = 10
	}
	return &TextObserver{w: w, label: label, step: step, next: step}
}

func (o *TextObserver) OnProgress(s Snapshot) {
	if s.RunPercent < o.next {
		return
	}
	for o.next <= s.RunPercent {
		o.next += o.step
	}
	fmt.Fprintf(o.w, "%s: %s\n", o.label, FormatSnapshot(s))
}
