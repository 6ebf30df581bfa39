package capture

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/flatten/logging"
)

// DefaultSettleTime is how long a watched file must stay unchanged before a reload.
const DefaultSettleTime = 250 * time.Millisecond

// Watch calls onChange once a burst of writes to any of paths has settled, until ctx is done.
// The parent directories are watched so that editors replacing a file are still noticed.
func Watch(ctx context.Context, paths []string, settle time.Duration, onChange func(), logger logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "cannot create watcher")
	}
	defer utils.UncheckedErrorFunc(watcher.Close)

	targets := map[string]bool{}
	dirs := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return errors.Wrapf(err, "cannot watch %q", dir)
		}
	}

	if settle <= 0 {
		settle = DefaultSettleTime
	}
	debounced := debounce.New(settle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !targets[name] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debugw("watched file changed", "file", name, "op", event.Op.String())
			debounced(onChange)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("watch error", "error", err)
		}
	}
}
