package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	apperrors "arcacli/internal/errors"
	"arcacli/internal/security"
)

// Ledger tracks consumed activation-code hashes. It is append-only: the
// set never shrinks except through an explicit admin Reset. Raw codes are
// never written, only their SHA-256 fingerprints, so the ledger leaks
// nothing redeemable.
type Ledger struct {
	path string
	mu   sync.Mutex
}

type ledgerFile struct {
	Version int      `json:"version"`
	Hashes  []string `json:"hashes"`
}

// NewLedger creates a ledger over the given JSON file.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Contains reports whether the code hash is already consumed.
func (l *Ledger) Contains(hash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hashes, err := l.loadLocked()
	if err != nil {
		return false, err
	}
	_, ok := hashes[hash]
	return ok, nil
}

// Add marks the code hash as consumed and persists atomically. Adding a
// hash that is already present is an error; the caller must check first
// under its own redemption lock.
func (l *Ledger) Add(ctx context.Context, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hashes, err := l.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := hashes[hash]; ok {
		return fmt.Errorf("%w", apperrors.ErrAlreadyRedeemed)
	}
	hashes[hash] = struct{}{}
	return l.saveLocked(ctx, hashes)
}

// Size returns the number of consumed codes.
func (l *Ledger) Size() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hashes, err := l.loadLocked()
	if err != nil {
		return 0, err
	}
	return len(hashes), nil
}

// Reset clears the ledger. Admin-only; the caller is responsible for
// auditing the reset.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked(ctx, map[string]struct{}{})
}

func (l *Ledger) loadLocked() (map[string]struct{}, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("%w: reading redeemed ledger: %v", apperrors.ErrStoreIO, err)
	}

	var file ledgerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: redeemed ledger is not decodable: %v", apperrors.ErrStoreIO, err)
	}
	hashes := make(map[string]struct{}, len(file.Hashes))
	for _, h := range file.Hashes {
		hashes[h] = struct{}{}
	}
	return hashes, nil
}

func (l *Ledger) saveLocked(ctx context.Context, hashes map[string]struct{}) error {
	file := ledgerFile{Version: 1, Hashes: make([]string, 0, len(hashes))}
	for h := range hashes {
		file.Hashes = append(file.Hashes, h)
	}
	sort.Strings(file.Hashes)

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding redeemed ledger: %w", err)
	}
	if err := security.WriteFileAtomic(ctx, l.path, data, 0o600); err != nil {
		return fmt.Errorf("%w: writing redeemed ledger: %v", apperrors.ErrStoreIO, err)
	}
	return nil
}
