package watcher

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/seqlab/run-uploader/internal/constants"
)

// notifier watches the root and its immediate children and signals wake when
// an instrument completion marker is created. Missed events are harmless:
// the poll still finds the run.
type notifier struct {
	fw   *fsnotify.Watcher
	wake chan struct{}
	done chan struct{}
	log  zerolog.Logger
}

func newNotifier(root string, logger zerolog.Logger) (*notifier, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, err
	}

	n := &notifier{
		fw:   fw,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  logger,
	}
	entries, err := os.ReadDir(root)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				n.add(filepath.Join(root, e.Name()))
			}
		}
	}

	go n.run()
	return n, nil
}

func (n *notifier) add(dir string) {
	if err := n.fw.Add(dir); err != nil {
		n.log.Debug().Err(err).Str("dir", dir).Msg("Cannot watch directory")
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		select {
		case event, ok := <-n.fw.Events:
			if !ok {
				return
			}
			n.handle(event)
		case err, ok := <-n.fw.Errors:
			if !ok {
				return
			}
			n.log.Debug().Err(err).Msg("File notification error")
		}
	}
}

func (n *notifier) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if filepath.Base(event.Name) == constants.InstrumentCompleteMarker {
		n.signal()
		return
	}
	// New run directories appear under the root; watch them for the marker.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			n.add(event.Name)
		}
	}
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) close() {
	n.fw.Close()
	<-n.done
}
