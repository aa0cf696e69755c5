// Package watch triggers a configuration reload when the config file changes
// on disk. The file's directory is watched rather than the file itself
// because most editors and config management tools replace the file by
// rename, which would drop an inode-level watch.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher debounces file events and invokes the reload callback. A failed
// reload is logged and the watcher keeps running; the next save gets another
// chance.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *slog.Logger
	reload   func(ctx context.Context) error
}

func New(path string, reload func(ctx context.Context) error, log *slog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		log:      log,
		reload:   reload,
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.log.Info("watching config", "path", w.path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			armed = true
		case <-timer.C:
			armed = false
			w.log.Info("config changed, reloading", "path", w.path)
			if err := w.reload(ctx); err != nil {
				w.log.Error("reload from config change failed", "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watch error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}
