package hook

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockTimeout = 2 * time.Second
	lockRetry   = 10 * time.Millisecond
)

// Ledger remembers which write attempts were already shown an advisory. It is
// a newline-delimited file of content hashes holding at most size entries.
type Ledger struct {
	path string
	size int
}

// NewLedger returns a ledger stored at path.
func NewLedger(path string, size int) *Ledger {
	if size <= 0 {
		size = 100
	}
	return &Ledger{path: path, size: size}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Seen reports whether hash is among the retained entries. A missing or
// unreadable ledger counts as empty.
func (l *Ledger) Seen(hash string) bool {
	for _, h := range l.read() {
		if h == hash {
			return true
		}
	}
	return false
}

// Mark appends hash, dropping the oldest entries beyond the bound. The file
// is replaced atomically while holding an advisory lock.
func (l *Ledger) Mark(ctx context.Context, hash string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	lock := flock.New(l.path + ".lock")
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	ok, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock ledger: not acquired")
	}
	defer lock.Unlock()

	entries := append(l.read(), hash)
	if len(entries) > l.size {
		entries = entries[len(entries)-l.size:]
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".seen_writes-*")
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strings.Join(entries, "\n") + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// read returns the retained entries, oldest first.
func (l *Ledger) read() []string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	var entries []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			entries = append(entries, line)
		}
	}
	if len(entries) > l.size {
		entries = entries[len(entries)-l.size:]
	}
	return entries
}
