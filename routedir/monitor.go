package routedir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const fileExtension = ".json"

var (
	// ErrScanInProgress is returned by Scan when another scan of the same
	// monitor is running.
	ErrScanInProgress = errors.New("scan in progress")

	// ErrInvalidID is returned for route ids that cannot be used as file
	// names in the directory.
	ErrInvalidID = errors.New("invalid route id")
)

// Monitor tracks the route files of a single directory.
type Monitor struct {
	directory string
	codec     jsonCodec

	// scans are not queued, see Scan
	scanMu sync.Mutex

	// serializes the file operations
	fileMu sync.Mutex

	mu       sync.Mutex
	snapshot map[string]time.Time
}

// NewMonitor creates a monitor of the directory. The directory does not
// need to exist.
func NewMonitor(directory string) *Monitor {
	return &Monitor{
		directory: filepath.Clean(directory),
		codec:     defaultCodec,
		snapshot:  make(map[string]time.Time),
	}
}

// ValidID tells whether the id can be used as a route file name.
func ValidID(id string) bool {
	return id != "" &&
		id != "." &&
		id != ".." &&
		!strings.HasPrefix(id, ".") &&
		!strings.ContainsAny(id, `/\`+"\x00")
}

// Directory returns the watched directory.
func (m *Monitor) Directory() string { return m.directory }

// FileOf returns the file identity of the route id.
func (m *Monitor) FileOf(id string) string {
	return filepath.Join(m.directory, id+fileExtension)
}

// RouteIDOf returns the route id of the file identity.
func (m *Monitor) RouteIDOf(file string) string {
	return strings.TrimSuffix(filepath.Base(file), fileExtension)
}

func (m *Monitor) list() (map[string]time.Time, error) {
	entries, err := os.ReadDir(m.directory)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	files := make(map[string]time.Time)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, fileExtension) || !ValidID(strings.TrimSuffix(name, fileExtension)) {
			continue
		}

		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if !info.Mode().IsRegular() {
			continue
		}

		files[filepath.Join(m.directory, name)] = info.ModTime()
	}

	return files, nil
}

// Scan compares the directory with the snapshot, updates the snapshot and
// returns the differences. When another scan is running, it returns
// ErrScanInProgress without waiting. A missing directory is scanned as
// empty.
func (m *Monitor) Scan() (ChangeSet, error) {
	if !m.scanMu.TryLock() {
		return ChangeSet{directory: m.directory}, ErrScanInProgress
	}

	defer m.scanMu.Unlock()

	// the listing and the snapshot update are not interleaved with the
	// writes of the monitor
	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	files, err := m.list()
	if err != nil {
		return ChangeSet{directory: m.directory}, fmt.Errorf("failed to list %s: %w", m.directory, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var added, modified, removed []string
	for file := range m.snapshot {
		if _, ok := files[file]; !ok {
			removed = append(removed, file)
			delete(m.snapshot, file)
		}
	}

	for file, t := range files {
		known, ok := m.snapshot[file]
		switch {
		case !ok:
			added = append(added, file)
		case t.After(known):
			modified = append(modified, file)
		default:
			continue
		}

		m.snapshot[file] = t
	}

	return NewChangeSet(m.directory, added, modified, removed), nil
}

// Known returns the files of the snapshot.
func (m *Monitor) Known() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := make(map[string]time.Time, len(m.snapshot))
	for f, t := range m.snapshot {
		k[f] = t
	}

	return k
}

// Read returns the content of the route file.
func (m *Monitor) Read(id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	m.fileMu.Lock()
	defer m.fileMu.Unlock()
	return os.ReadFile(m.FileOf(id))
}

// Store writes the route configuration to the file of the id, formatted
// as indented JSON. The directory is created when necessary. The file is
// replaced atomically, and the snapshot is updated with it.
func (m *Monitor) Store(id string, config []byte) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	content, err := m.codec.format(config)
	if err != nil {
		return err
	}

	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	if err := os.MkdirAll(m.directory, 0o755); err != nil {
		return fmt.Errorf("failed to create route directory: %w", err)
	}

	tmp, err := os.CreateTemp(m.directory, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to store route %s: %w", id, err)
	}

	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to store route %s: %w", id, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to store route %s: %w", id, err)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to store route %s: %w", id, err)
	}

	file := m.FileOf(id)
	if err := os.Rename(tmp.Name(), file); err != nil {
		return fmt.Errorf("failed to store route %s: %w", id, err)
	}

	info, err := os.Stat(file)
	if err != nil {
		return fmt.Errorf("failed to store route %s: %w", id, err)
	}

	m.mu.Lock()
	m.snapshot[file] = info.ModTime()
	m.mu.Unlock()
	return nil
}

// Delete removes the route file of the id, and drops it from the
// snapshot. Deleting a missing file returns an error wrapping
// fs.ErrNotExist.
func (m *Monitor) Delete(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	file := m.FileOf(id)
	if err := os.Remove(file); err != nil {
		return fmt.Errorf("failed to delete route %s: %w", id, err)
	}

	m.mu.Lock()
	delete(m.snapshot, file)
	m.mu.Unlock()
	return nil
}
