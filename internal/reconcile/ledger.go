package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// LedgerEntry records the last pushed state of one post.
type LedgerEntry struct {
	Hash       string    `json:"hash"`
	LastSynced time.Time `json:"lastSynced"`
}

// Ledger maps slug to its last pushed state.
type Ledger map[string]LedgerEntry

// LoadLedger reads path. A missing file, or one holding JSON null, yields an
// empty ledger.
func LoadLedger(path string) (Ledger, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Ledger{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: read ledger: %w", err)
	}
	l := Ledger{}
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("reconcile: parse ledger %s: %w", path, err)
	}
	if l == nil {
		l = Ledger{}
	}
	return l, nil
}

// Save writes the ledger atomically: a temp file in the same directory is
// renamed over path.
func (l Ledger) Save(path string) error {
	raw, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("reconcile: encode ledger: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("reconcile: create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("reconcile: write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("reconcile: close ledger: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("reconcile: replace ledger: %w", err)
	}
	return nil
}
