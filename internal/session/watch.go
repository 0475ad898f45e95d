package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kobzarvs/qfield/internal/logger"
)

var ErrAlreadyWatching = errors.New("session: already watching")

type watcher struct {
	fsw     *fsnotify.Watcher
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Watch reports edits made to the document file by other processes. fn runs
// on the watcher goroutine with the fields whose value changed; the manager's
// memory already holds the new values when it runs.
func (m *Manager) Watch(fn func(changed map[string]string)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return ErrAlreadyWatching
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: saves replace the file by rename.
	if err := fsw.Add(filepath.Dir(m.path)); err != nil {
		_ = fsw.Close()
		return err
	}

	w := &watcher{fsw: fsw, closeCh: make(chan struct{})}
	w.wg.Add(1)
	go m.processLoop(w, fn)
	m.watcher = w
	return nil
}

func (m *Manager) processLoop(w *watcher, fn func(map[string]string)) {
	defer w.wg.Done()
	name := filepath.Clean(m.path)
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			m.handleChange(fn)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("document watch error", "path", m.path, "err", err)
		}
	}
}

func (m *Manager) handleChange(fn func(map[string]string)) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		logger.Debug("document reread failed", "path", m.path, "err", err)
		return
	}
	changed, err := m.apply(data, true)
	if err != nil {
		// Usually a half-written file; the next write event retries.
		logger.Debug("document decode failed", "path", m.path, "err", err)
		return
	}
	if len(changed) == 0 {
		return
	}
	logger.Info("document changed externally", "path", m.path, "fields", len(changed))
	fn(changed)
}

func (w *watcher) close() {
	close(w.closeCh)
	_ = w.fsw.Close()
	w.wg.Wait()
}
