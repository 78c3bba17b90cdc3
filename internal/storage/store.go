package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// RecordStore is a durable mapping from user id to a JSON record, persisted
// as a single flat JSON object. The whole file is loaded on each access and
// rewritten atomically (temp file + rename) on each mutation, so readers
// never observe a partial update. Safe for concurrent use.
//
// With failOpen set, a missing or corrupt file reads as an empty store
// instead of an error. That is the availability-over-strictness behavior the
// rest of the system relies on; turn it off to surface read failures.
type RecordStore struct {
	path     string
	failOpen bool
	mu       sync.Mutex
	logger   *logrus.Logger
	record   OpRecorder
}

// OpRecorder observes store operations, typically to feed metrics.
type OpRecorder func(operation, status string)

// NewRecordStore creates a store backed by the given file.
func NewRecordStore(path string, failOpen bool, logger *logrus.Logger) *RecordStore {
	return &RecordStore{path: path, failOpen: failOpen, logger: logger}
}

// WithRecorder attaches an operation recorder and returns the store.
func (s *RecordStore) WithRecorder(rec OpRecorder) *RecordStore {
	s.record = rec
	return s
}

func (s *RecordStore) observe(operation string, err error) {
	if s.record == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.record(operation, status)
}

// Load reads the full mapping. Records stay raw so callers decode them into
// their own shapes (including legacy ones).
func (s *RecordStore) Load() (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *RecordStore) load() (map[string]json.RawMessage, error) {
	records, err := s.read()
	s.observe("load", err)
	if err != nil {
		return s.failOpenOr(err)
	}
	return records, nil
}

func (s *RecordStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	var records map[string]json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("corrupt store %s: %w", s.path, err)
	}
	if records == nil {
		records = map[string]json.RawMessage{}
	}
	return records, nil
}

func (s *RecordStore) failOpenOr(err error) (map[string]json.RawMessage, error) {
	if s.failOpen {
		if s.logger != nil {
			s.logger.WithError(err).WithField("store", s.path).Warn("Store read failed, treating as empty")
		}
		return map[string]json.RawMessage{}, nil
	}
	return nil, err
}

// Get decodes the record for uid into v. Returns false if absent.
func (s *RecordStore) Get(uid string, v interface{}) (bool, error) {
	records, err := s.Load()
	if err != nil {
		return false, err
	}
	raw, ok := records[uid]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode record %q: %w", uid, err)
	}
	return true, nil
}

// Put replaces the record for uid.
func (s *RecordStore) Put(uid string, v interface{}) error {
	return s.Update(func(records map[string]json.RawMessage) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode record %q: %w", uid, err)
		}
		records[uid] = raw
		return nil
	})
}

// Update runs fn over the full mapping under the store lock and persists the
// result. The read-modify-write cycle is atomic with respect to other callers
// of this store.
func (s *RecordStore) Update(fn func(records map[string]json.RawMessage) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(records); err != nil {
		return err
	}
	return s.save(records)
}

func (s *RecordStore) save(records map[string]json.RawMessage) (err error) {
	defer func() { s.observe("save", err) }()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
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
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace store %s: %w", s.path, err)
	}
	return nil
}
