package stream

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ReloadFunc receives every successfully parsed config after a change
type ReloadFunc func(cfg *Config)

// ConfigWatcher reloads the service config file when it changes on disk.
// The containing directory is watched so editors that replace the file
// are handled too.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload ReloadFunc
	debounce time.Duration
	log      logrus.FieldLogger
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConfigWatcher creates a watcher for path; call Start to begin
func NewConfigWatcher(path string, onReload ReloadFunc, log logrus.FieldLogger) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	return &ConfigWatcher{
		path:     abs,
		watcher:  w,
		onReload: onReload,
		debounce: 250 * time.Millisecond,
		log:      log.WithField("component", "config-watcher"),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching
func (cw *ConfigWatcher) Start() error {
	dir := filepath.Dir(cw.path)
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	cw.log.Infof("Watching config file %s", cw.path)

	cw.wg.Add(1)
	go cw.processEvents()
	return nil
}

// Stop ends watching and waits for the event loop to exit
func (cw *ConfigWatcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.done)
		err = cw.watcher.Close()
		cw.wg.Wait()
	})
	return err
}

func (cw *ConfigWatcher) processEvents() {
	defer cw.wg.Done()

	// editors emit bursts of events; reload once they settle
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(cw.debounce)

		case <-timer.C:
			cw.reload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.WithError(err).Warn("Config watcher error")

		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadConfig(cw.path)
	if err != nil {
		cw.log.WithError(err).Warn("Ignoring invalid config change")
		return
	}
	cw.log.Info("Config file changed, reloading")
	if cw.onReload != nil {
		cw.onReload(cfg)
	}
}
