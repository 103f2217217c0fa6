package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/bedrock-hpc/bedrock/pkg/logging"
)

// WatchFile watches path for external writes and sends on the returned
// channel each time one is observed. The channel holds one pending
// notification; events that arrive while it is still unread are dropped,
// so a burst of writes yields a single notification. It does not reload or
// reconfigure anything itself — actual reconfiguration still goes through
// the Remote Control RPC surface; this only flags that the on-disk document
// has drifted from what the running daemon was bootstrapped with. The
// returned stop function closes the watcher.
func WatchFile(path string) (<-chan struct{}, func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, nil, err
	}

	changed := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					select {
					case changed <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Error("config", err, "watching %s", path)
			}
		}
	}()

	return changed, watcher.Close, nil
}
