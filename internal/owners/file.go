package owners

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDelay = 250 * time.Millisecond

// File is a Directory backed by a YAML file that reloads on change.
// A reload that fails to parse keeps the previous owners.
type File struct {
	*Static
	path   string
	logger *slog.Logger
}

// OpenFile loads path. Call Watch to pick up later edits.
func OpenFile(path string, logger *slog.Logger) (*File, error) {
	owners, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	f := &File{Static: &Static{owners: owners}, path: path, logger: logger}
	logger.Info("owners loaded", slog.String("path", path), slog.Int("owners", len(owners)))
	return f, nil
}

// Reload re-reads the file.
func (f *File) Reload() error {
	owners, err := LoadFile(f.path)
	if err != nil {
		return err
	}
	f.replace(owners)
	f.logger.Info("owners reloaded", slog.String("path", f.path), slog.Int("owners", len(owners)))
	return nil
}

// Watch reloads the file on change until ctx is cancelled. The parent
// directory is watched so editors that replace the file by rename are seen.
func (f *File) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create owners watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch owners dir: %w", err)
	}
	go f.processEvents(ctx, w)
	return nil
}

func (f *File) processEvents(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	target := filepath.Clean(f.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				if err := f.Reload(); err != nil {
					f.logger.Error("owners reload failed, keeping previous set",
						slog.String("path", f.path),
						slog.String("error", err.Error()),
					)
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.logger.Error("owners watcher error", slog.String("error", err.Error()))
		}
	}
}
