package watcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/discovery"
	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/state"
)

// ReadyDirs returns the run directories under root that the instrument has
// finished and that still need an upload. Runs whose last attempt ended in
// ERROR are excluded; they are resumed with an explicit upload. Runs whose
// lock is held are being uploaded and are excluded too.
func ReadyDirs(root string, opts discovery.Options) ([]string, error) {
	dirs, err := discovery.Candidates(root, opts.SheetName, opts.MaxDepth)
	if err != nil {
		return nil, err
	}

	var ready []string
	for _, dir := range dirs {
		if !instrumentDone(dir) {
			continue
		}
		if status, ok := state.RecordedStatus(dir); ok && status == models.RunStatusError {
			continue
		}
		if state.IsLocked(dir) {
			continue
		}
		ready = append(ready, dir)
	}
	return ready, nil
}

func instrumentDone(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, constants.InstrumentCompleteMarker))
	return err == nil
}

func sheetModTime(dir, sheetName string) (time.Time, error) {
	info, err := os.Stat(filepath.Join(dir, sheetName))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
