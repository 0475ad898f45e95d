package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Document is the owner-side state of all fields.
type Document struct {
	Fields    map[string]string `json:"fields"`
	LastSaved time.Time         `json:"last_saved"`
}

// Manager owns the document and persists it as JSON.
type Manager struct {
	mu       sync.RWMutex
	doc      Document
	path     string
	dirty    bool
	stopChan chan struct{}
	stopOnce sync.Once
	watcher  *watcher
	// written is the last content this manager wrote, so the watcher can
	// tell its own saves from foreign edits.
	written []byte
}

// NewManager loads the document at path (or the default location when path
// is empty) and starts the autosave loop.
func NewManager(path string, autosave time.Duration) (*Manager, error) {
	if path == "" {
		p, err := DocumentPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	m := &Manager{
		doc:      Document{Fields: make(map[string]string)},
		path:     path,
		stopChan: make(chan struct{}),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	if autosave > 0 {
		go m.autosaveLoop(autosave)
	}
	return m, nil
}

// DocumentPath is the default document location under the XDG state dir.
func DocumentPath() (string, error) {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		stateDir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateDir, "qfield", "document.json"), nil
}

// Path returns the document file.
func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) load() error {
	doc, err := readDocument(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // No document yet, start fresh
		}
		return err
	}
	m.doc = doc
	return nil
}

func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return decodeDocument(path, data)
}

func decodeDocument(path string, data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("document %s: %w", path, err)
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]string)
	}
	return doc, nil
}

// Save persists the document if it changed.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dirty {
		return nil
	}

	m.doc.LastSaved = time.Now()
	data, err := json.MarshalIndent(m.doc, "", "  ")
	if err != nil {
		return err
	}
	// Write through a temp file so the watcher never decodes a partial file.
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return err
	}

	m.written = data
	m.dirty = false
	return nil
}

// ForceSave saves even if not dirty
func (m *Manager) ForceSave() error {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
	return m.Save()
}

// Get returns the owner's value of a field.
func (m *Manager) Get(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Fields[name]
}

// Fields returns a copy of all field values.
func (m *Manager) Fields() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.doc.Fields)
}

// Set stores the owner's value of a field.
func (m *Manager) Set(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.doc.Fields[name]; ok && cur == value {
		return
	}
	m.doc.Fields[name] = value
	m.dirty = true
}

// Dirty reports unsaved changes.
func (m *Manager) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// Reload rereads the document from disk and returns the fields whose value
// changed. Fields missing from the file are left alone.
func (m *Manager) Reload() (map[string]string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return m.apply(data, false)
}

// apply merges file content into memory. With foreignOnly set, content equal
// to the manager's own last write is ignored.
func (m *Manager) apply(data []byte, foreignOnly bool) (map[string]string, error) {
	m.mu.RLock()
	own := foreignOnly && bytes.Equal(data, m.written)
	m.mu.RUnlock()
	if own {
		return nil, nil
	}
	doc, err := decodeDocument(m.path, data)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := make(map[string]string)
	for name, v := range doc.Fields {
		if cur, ok := m.doc.Fields[name]; !ok || cur != v {
			m.doc.Fields[name] = v
			changed[name] = v
		}
	}
	return changed, nil
}

func (m *Manager) autosaveLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = m.Save()
		case <-m.stopChan:
			return
		}
	}
}

// Stop stops the autosave loop and the watcher, then saves pending changes.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w != nil {
		w.close()
	}
	return m.Save()
}
