// Package state keeps the last known outcome of every ontology artifact in a
// JSON file shared by all runs of the current user.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"
)

// Record is the last recorded outcome for one artifact path.
type Record struct {
	Field     string    `json:"field"`
	Backend   string    `json:"backend"`
	Model     string    `json:"model"`
	Status    string    `json:"status"`
	Path      string    `json:"path"`
	Error     string    `json:"error,omitempty"`
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

var ErrLockTimeout = errors.New("state lock timeout")

type stateFile struct {
	Records map[string]Record `json:"records"`
}

type lockHandle struct {
	file *os.File
}

// InitState initializes the state file and directory.
func InitState() error {
	return withLock(func() error {
		return initStateUnlocked()
	})
}

// PutRecord upserts the record for its artifact path. Relative paths are
// made absolute so runs from different directories do not collide.
func PutRecord(record Record) error {
	if record.Path == "" {
		return errors.New("record path is required")
	}
	key, err := filepath.Abs(record.Path)
	if err != nil {
		return fmt.Errorf("resolve artifact path: %w", err)
	}
	record.Path = key
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	return withLock(func() error {
		if err := initStateUnlocked(); err != nil {
			return err
		}

		state, err := readStateUnlocked()
		if err != nil {
			return err
		}

		state.Records[key] = record
		return writeStateFile(state)
	})
}

// GetRecord returns the record for an artifact path.
func GetRecord(path string) (Record, bool, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return Record{}, false, fmt.Errorf("resolve artifact path: %w", err)
	}

	var record Record
	var found bool
	err = withLock(func() error {
		if err := initStateUnlocked(); err != nil {
			return err
		}

		state, err := readStateUnlocked()
		if err != nil {
			return err
		}

		record, found = state.Records[key]
		return nil
	})

	return record, found, err
}

// ListRecords returns all records ordered by path.
func ListRecords() ([]Record, error) {
	var records []Record
	err := withLock(func() error {
		if err := initStateUnlocked(); err != nil {
			return err
		}

		state, err := readStateUnlocked()
		if err != nil {
			return err
		}

		records = make([]Record, 0, len(state.Records))
		for _, record := range state.Records {
			records = append(records, record)
		}
		return nil
	})

	sort.Slice(records, func(i, j int) bool {
		return records[i].Path < records[j].Path
	})
	return records, err
}

// Prune drops records whose artifact no longer exists and that were not a
// failure. Failed records stay so `status` keeps reporting them.
func Prune() ([]string, error) {
	pruned := []string{}
	err := withLock(func() error {
		if err := initStateUnlocked(); err != nil {
			return err
		}

		state, err := readStateUnlocked()
		if err != nil {
			return err
		}

		for key, record := range state.Records {
			if record.Status != "stored" {
				continue
			}
			if _, err := os.Stat(key); err == nil {
				continue
			}
			delete(state.Records, key)
			pruned = append(pruned, key)
		}

		if len(pruned) == 0 {
			return nil
		}
		sort.Strings(pruned)
		return writeStateFile(state)
	})

	return pruned, err
}

func withLock(fn func() error) error {
	handle, err := acquireLock()
	if err != nil {
		return err
	}
	defer handle.release()
	return fn()
}

func acquireLock() (*lockHandle, error) {
	dir := stateDir()
	if dir == "" {
		return nil, errors.New("state directory unavailable")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	file, err := os.OpenFile(lockFilePath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open state lock: %w", err)
	}
	if err := tryFlock(file, lockTimeout()); err != nil {
		file.Close()
		return nil, err
	}
	return &lockHandle{file: file}, nil
}

func (handle *lockHandle) release() {
	if handle == nil || handle.file == nil {
		return
	}
	_ = syscall.Flock(int(handle.file.Fd()), syscall.LOCK_UN)
	_ = handle.file.Close()
}

func tryFlock(file *os.File, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return nil
		}

		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			if time.Now().After(deadline) {
				return ErrLockTimeout
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		return err
	}
}

func initStateUnlocked() error {
	dir := stateDir()
	if dir == "" {
		return errors.New("state directory unavailable")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	path := stateFilePath()
	if path == "" {
		return errors.New("state file path unavailable")
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return writeStateFile(stateFile{Records: map[string]Record{}})
		}
		return fmt.Errorf("stat state file: %w", err)
	}

	if _, err := readStateUnlocked(); err != nil {
		return writeStateFile(stateFile{Records: map[string]Record{}})
	}

	return nil
}

func readStateUnlocked() (stateFile, error) {
	path := stateFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return stateFile{}, fmt.Errorf("read state file: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return stateFile{}, fmt.Errorf("decode state file: %w", err)
	}

	if state.Records == nil {
		state.Records = map[string]Record{}
	}

	return state, nil
}

func writeStateFile(state stateFile) error {
	if state.Records == nil {
		state.Records = map[string]Record{}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if len(data) == 0 {
		return errors.New("refusing to write empty state")
	}

	path := stateFilePath()
	if path == "" {
		return errors.New("state file path unavailable")
	}

	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}

func lockTimeout() time.Duration {
	if value := os.Getenv("ONTOGEN_LOCK_TIMEOUT"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Second
		}
	}
	return 10 * time.Second
}

func stateDir() string {
	if value := os.Getenv("ONTOGEN_STATE_DIR"); value != "" {
		return value
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}

	return filepath.Join(home, ".config", "ontogen")
}

func stateFilePath() string {
	if value := os.Getenv("ONTOGEN_STATE_FILE"); value != "" {
		return value
	}

	dir := stateDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, "state.json")
}

func lockFilePath() string {
	if value := os.Getenv("ONTOGEN_LOCK_FILE"); value != "" {
		return value
	}

	dir := stateDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, "state.lock")
}
