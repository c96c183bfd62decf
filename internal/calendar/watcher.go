// internal/calendar/watcher.go
package calendar

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a calendar when its file changes. The parent directory is
// watched so that editors which replace the file are picked up.
type Watcher struct {
	cal      *Calendar
	path     string
	fsw      *fsnotify.Watcher
	logger   *zap.Logger
	OnReload func(profiles int, err error)
}

// NewWatcher loads path into cal and prepares a watcher for it.
func NewWatcher(cal *Calendar, path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path = filepath.Clean(path)

	profiles, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cal.Replace(profiles); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create calendar watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{cal: cal, path: path, fsw: fsw, logger: logger.Named("calendar")}, nil
}

// Run processes file events until ctx is done. A file that fails to parse is
// logged and the previous profiles stay in place.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("calendar watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err == nil && len(bytes.TrimSpace(data)) == 0 {
		// truncated mid-write; the follow-up write event carries the content
		return
	}
	var profiles []Profile
	if err == nil {
		profiles, err = Parse(data)
	}
	if err == nil {
		err = w.cal.Replace(profiles)
	}
	if err != nil {
		w.logger.Error("calendar reload failed", zap.String("path", w.path), zap.Error(err))
	} else {
		w.logger.Info("calendar reloaded", zap.String("path", w.path), zap.Int("events", len(profiles)))
	}
	if w.OnReload != nil {
		w.OnReload(w.cal.Len(), err)
	}
}
