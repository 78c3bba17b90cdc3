package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	embeddingPrefix = "speaker_embedding_"
	embeddingSuffix = ".npz"
	genMetaFile     = "gen_meta.json"
	messageLogFile  = "message.log"
)

// UserFiles manages the per-user directory tree under the storage root:
// embedding artifacts keyed by slot, the daily generation counter and the
// moderation audit log. File presence is the source of truth for slot
// occupancy; there is no separate index.
type UserFiles struct {
	root string
}

// NewUserFiles creates the manager and ensures the root directory exists.
func NewUserFiles(root string) (*UserFiles, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create users root %s: %w", root, err)
	}
	return &UserFiles{root: root}, nil
}

// Root returns the users root directory.
func (u *UserFiles) Root() string {
	return u.root
}

// Dir returns the user's directory, creating it if needed.
func (u *UserFiles) Dir(uid string) (string, error) {
	dir := filepath.Join(u.root, uid)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create user dir %s: %w", dir, err)
	}
	return dir, nil
}

// EmbeddingPath returns the canonical artifact path for a slot.
func (u *UserFiles) EmbeddingPath(uid string, slot int) string {
	name := embeddingPrefix + strconv.Itoa(slot) + embeddingSuffix
	return filepath.Join(u.root, uid, name)
}

// OccupiedSlots enumerates the slot indices with an artifact on disk.
func (u *UserFiles) OccupiedSlots(uid string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(u.root, uid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var slots []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, embeddingPrefix) || !strings.HasSuffix(name, embeddingSuffix) {
			continue
		}
		idx := strings.TrimSuffix(strings.TrimPrefix(name, embeddingPrefix), embeddingSuffix)
		slot, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots, nil
}

// ReadGenMeta loads the user's daily counter record. Missing or unreadable
// records read as empty.
func (u *UserFiles) ReadGenMeta(uid string) DailyGenMeta {
	var meta DailyGenMeta
	data, err := os.ReadFile(filepath.Join(u.root, uid, genMetaFile))
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return DailyGenMeta{}
	}
	return meta
}

// WriteGenMeta persists the user's daily counter record atomically.
func (u *UserFiles) WriteGenMeta(uid string, meta DailyGenMeta) error {
	dir, err := u.Dir(uid)
	if err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, genMetaFile)
	tmp, err := os.CreateTemp(dir, genMetaFile+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// DailyGenMeta is the per-user generation counter persisted as
// gen_meta.json. A record whose date differs from the current day reads
// as zero.
type DailyGenMeta struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// AppendLog appends a timestamped line to the user's moderation audit log.
func (u *UserFiles) AppendLog(uid, line string) error {
	dir, err := u.Dir(uid)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, messageLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	ts := time.Now().Format("2006-01-02 15:04:05")
	_, err = fmt.Fprintf(f, "[%s] %s\n", ts, line)
	return err
}

// LogTail returns up to n trailing lines of the user's audit log.
func (u *UserFiles) LogTail(uid string, n int) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(u.root, uid, messageLogFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
