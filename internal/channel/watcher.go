package channel

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for coalescing database writes.
const DebounceDelay = 150 * time.Millisecond

// StoreWatcher signals when a database file (or its -wal/-shm companions)
// changes, so the poll loop can check early instead of waiting a full tick.
type StoreWatcher struct {
	watcher *fsnotify.Watcher
	base    string
	delay   time.Duration
	logger  *slog.Logger

	changes chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

// NewStoreWatcher watches the directory containing dbPath.
// Call Start to begin delivering events and Close when done.
func NewStoreWatcher(dbPath string, logger *slog.Logger) (*StoreWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(dbPath)); err != nil {
		w.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreWatcher{
		watcher: w,
		base:    filepath.Base(dbPath),
		delay:   DebounceDelay,
		logger:  logger,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// SetDebounceDelay must be called before Start.
func (sw *StoreWatcher) SetDebounceDelay(d time.Duration) {
	sw.delay = d
}

// Changes delivers at most one pending notification at a time.
func (sw *StoreWatcher) Changes() <-chan struct{} {
	return sw.changes
}

func (sw *StoreWatcher) Start() {
	go sw.eventLoop()
}

// Close stops the watcher. No notifications are delivered after it returns.
func (sw *StoreWatcher) Close() error {
	close(sw.done)
	err := sw.watcher.Close()
	<-sw.stopped
	sw.timerMu.Lock()
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timerMu.Unlock()
	return err
}

func (sw *StoreWatcher) eventLoop() {
	defer close(sw.stopped)
	for {
		select {
		case <-sw.done:
			return
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), sw.base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			sw.schedule()
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Debug("store watcher error", "err", err)
		}
	}
}

func (sw *StoreWatcher) schedule() {
	sw.timerMu.Lock()
	defer sw.timerMu.Unlock()
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(sw.delay, func() {
		select {
		case <-sw.done:
			return
		default:
		}
		select {
		case sw.changes <- struct{}{}:
		default:
		}
	})
}
