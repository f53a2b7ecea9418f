// Package lock serializes maintenance operations (gc, archive) on one
// transcript directory. Recording executions never takes the lock.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runlog-project/runlog/pkg/errclass"
	"github.com/runlog-project/runlog/pkg/fsutil"
)

// FileName is the lock file created inside the transcript directory.
const FileName = ".runlog-maintenance.lock"

// DefaultLeaseTTL bounds how long a crashed holder blocks others.
const DefaultLeaseTTL = 10 * time.Minute

// Record is the content of a held lock.
type Record struct {
	HolderNonce  string    `json:"holder_nonce"`
	Purpose      string    `json:"purpose"`
	PID          int       `json:"pid"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	FencingToken int64     `json:"fencing_token"`
}

// IsExpired reports whether the lease ended before now.
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// State describes the lock as seen by Status.
type State string

const (
	StateFree    State = "free"
	StateHeld    State = "held"
	StateExpired State = "expired"
)

// Manager handles the maintenance lock of one directory.
type Manager struct {
	dir string
	ttl time.Duration
	now func() time.Time
	mu  sync.Mutex
}

// NewManager creates a lock manager for dir. A non-positive ttl selects
// DefaultLeaseTTL.
func NewManager(dir string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Manager{dir: dir, ttl: ttl, now: time.Now}
}

// Path returns the lock file path.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, FileName)
}

// Acquire takes the lock. An expired lock is taken over with a higher
// fencing token; a live one yields ErrLockConflict.
func (m *Manager) Acquire(purpose string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.Path()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		defer file.Close()
		rec := m.newRecord(purpose, 1)
		if err := writeRecord(file, rec); err != nil {
			os.Remove(path)
			return nil, err
		}
		return rec, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("create lock: %w", err)
	}

	prev, err := readRecord(path)
	if err != nil {
		return nil, fmt.Errorf("read existing lock: %w", err)
	}
	if !prev.IsExpired(m.now()) {
		return nil, errclass.ErrLockConflict.WithMessagef("%s in progress (pid %d) until %s",
			prev.Purpose, prev.PID, prev.ExpiresAt.Local().Format(time.Kitchen))
	}

	rec := m.newRecord(purpose, prev.FencingToken+1)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	if err := fsutil.AtomicWrite(path, data, 0644); err != nil {
		return nil, fmt.Errorf("steal lock: %w", err)
	}
	return rec, nil
}

// Release frees the lock if holderNonce still owns it.
func (m *Manager) Release(holderNonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := readRecord(m.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read lock: %w", err)
	}
	if rec.HolderNonce != holderNonce {
		return errclass.ErrLockNotHeld.WithMessage("cannot release: nonce mismatch")
	}
	if err := os.Remove(m.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// Status returns the current lock state.
func (m *Manager) Status() (State, *Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := readRecord(m.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StateFree, nil, nil
		}
		return StateFree, nil, fmt.Errorf("read lock: %w", err)
	}
	if rec.IsExpired(m.now()) {
		return StateExpired, rec, nil
	}
	return StateHeld, rec, nil
}

func (m *Manager) newRecord(purpose string, token int64) *Record {
	now := m.now().UTC()
	return &Record{
		HolderNonce:  uuid.NewString(),
		Purpose:      purpose,
		PID:          os.Getpid(),
		AcquiredAt:   now,
		ExpiresAt:    now.Add(m.ttl),
		FencingToken: token,
	}
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock: %w", err)
	}
	return &rec, nil
}

func writeRecord(file *os.File, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return file.Sync()
}
