package storage

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ListFile is an append-only, newline-delimited set of user ids backing the
// blacklist and the authorized-user registry. Ids are never removed by this
// system; an unban is an out-of-band file edit.
type ListFile struct {
	path string
	mu   sync.Mutex
}

// NewListFile creates the list, touching the backing file so membership scans
// never fail on a fresh deployment.
func NewListFile(path string) (*ListFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open list %s: %w", path, err)
	}
	f.Close()
	return &ListFile{path: path}, nil
}

// Contains scans the file for the id. O(file size), which is fine for the
// small sets this backs.
func (l *ListFile) Contains(uid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids, err := l.read()
	if err != nil {
		return false
	}
	_, ok := ids[uid]
	return ok
}

// Add appends the id if not already present.
func (l *ListFile) Add(uid string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, err := l.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if _, ok := ids[uid]; ok {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open list %s: %w", l.path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(uid + "\n"); err != nil {
		return fmt.Errorf("append to list %s: %w", l.path, err)
	}
	return nil
}

// Len returns the number of ids currently in the file.
func (l *ListFile) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids, err := l.read()
	if err != nil {
		return 0
	}
	return len(ids)
}

func (l *ListFile) read() (map[string]struct{}, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ids := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, scanner.Err()
}
