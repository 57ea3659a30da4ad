// Package progress accounts for the bytes of a run transfer and reports
// percentages, speed and remaining time to pluggable observers (terminal
// bars, the event bus, plain callbacks).
//
// A Monitor is written by the single goroutine uploading a run and may be read
// through Snapshot by any other goroutine. The counters are individual atomics;
// a snapshot may mix values from two consecutive updates.
package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of a run transfer.
type Snapshot struct {
	TotalBytes       int64
	TransferredBytes int64
	FileBytes        int64
	FileSize         int64
	Start            time.Time

	FilePercent    float64 // 0-100
	RunPercent     float64 // 0-100
	BytesPerSecond float64
	ETA            time.Duration // 0 while the speed is unknown
}

// Observer receives progress updates.
type Observer interface {
	OnProgress(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

// OnProgress calls f(s).
func (f ObserverFunc) OnProgress(s Snapshot) { f(s) }

// Multi fans updates out to several observers. Nil entries are skipped.
func Multi(observers ...Observer) Observer {
	var list []Observer
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(s Snapshot) {
		for _, o := range list {
			o.OnProgress(s)
		}
	})
}

// Monitor accumulates byte counts across the files of one run.
type Monitor struct {
	total       atomic.Int64
	transferred atomic.Int64
	fileRead    atomic.Int64
	fileSize    atomic.Int64
	start       time.Time

	observer Observer
	now      func() time.Time

	// owned by the writing goroutine
	lastFilePct float64
	lastRunPct  float64
}

// NewMonitor creates a monitor for a transfer of totalBytes. observer may be nil.
func NewMonitor(totalBytes int64, observer Observer) *Monitor {
	m := &Monitor{
		observer:    observer,
		now:         time.Now,
		lastFilePct: -1,
		lastRunPct:  -1,
	}
	m.total.Store(totalBytes)
	m.start = m.now()
	return m
}

// StartFile begins accounting for a new file of size bytes.
func (m *Monitor) StartFile(size int64) {
	m.fileSize.Store(size)
	m.fileRead.Store(0)
	m.lastFilePct = -1
}

// Add records n bytes read from the current file and notifies the observer
// when either percentage changed.
func (m *Monitor) Add(n int64) {
	if n <= 0 {
		return
	}
	m.fileRead.Add(n)
	m.transferred.Add(n)

	s := m.Snapshot()
	if s.FilePercent == m.lastFilePct && s.RunPercent == m.lastRunPct {
		return
	}
	m.lastFilePct = s.FilePercent
	m.lastRunPct = s.RunPercent
	if m.observer != nil {
		m.observer.OnProgress(s)
	}
}

// Snapshot returns the current counters and derived values.
func (m *Monitor) Snapshot() Snapshot {
	s := Snapshot{
		TotalBytes:       m.total.Load(),
		TransferredBytes: m.transferred.Load(),
		FileBytes:        m.fileRead.Load(),
		FileSize:         m.fileSize.Load(),
		Start:            m.start,
	}
	s.FilePercent = Percent(s.FileBytes, s.FileSize)
	s.RunPercent = Percent(s.TransferredBytes, s.TotalBytes)

	elapsed := m.now().Sub(m.start).Seconds()
	s.BytesPerSecond = Speed(s.TransferredBytes, elapsed)
	s.ETA = ETA(s.TotalBytes, s.TransferredBytes, s.BytesPerSecond)
	return s
}

// Percent returns read/size rounded to four decimal places, times 100,
// clamped to [0, 100]. A partial transfer never reports 100.
func Percent(read, size int64) float64 {
	if size <= 0 {
		return 0
	}
	ratio := math.Round(float64(read)/float64(size)*10000) / 10000
	pct := ratio * 100
	switch {
	case pct > 100:
		pct = 100
	case pct < 0:
		pct = 0
	}
	if pct == 100 && read < size {
		pct = 99.99
	}
	return pct
}

// Speed returns bytes per second, or 0 when no time has elapsed.
func Speed(transferred int64, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	return float64(transferred) / elapsedSeconds
}

// ETA returns ceil(|total - transferred| / speed) seconds, or 0 when the
// speed is unknown.
func ETA(total, transferred int64, speed float64) time.Duration {
	if speed <= 0 {
		return 0
	}
	remaining := math.Abs(float64(total - transferred))
	return time.Duration(math.Ceil(remaining/speed)) * time.Second
}

// TotalSize sums the sizes of paths.
func TotalSize(paths []string) (int64, error) {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return 0, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		total += info.Size()
	}
	return total, nil
}

// Reader wraps an io.Reader and reports every chunk to a Monitor.
type Reader struct {
	r io.Reader
	m *Monitor
}

// NewReader wraps r. A nil monitor makes Reader a pass-through.
func NewReader(r io.Reader, m *Monitor) *Reader {
	return &Reader{r: r, m: m}
}

// Read implements io.Reader interface with progress reporting.
func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.m != nil {
		pr.m.Add(int64(n))
	}
	return n, err
}
