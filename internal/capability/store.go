package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	apperrors "arcacli/internal/errors"
	"arcacli/internal/security"
)

// Store persists the capability set encrypted at rest. All
// read-modify-write sequences hold an exclusive in-process lock, and every
// write is an atomic rename, so a concurrent grant and purge cannot drop a
// write and a crash mid-write cannot corrupt the file.
type Store struct {
	path          string
	encryptionKey []byte
	mu            sync.Mutex
	now           func() time.Time
}

// storeEnvelope is the serialized plaintext inside the sealed file.
type storeEnvelope struct {
	Version      int          `json:"version"`
	Capabilities []Capability `json:"capabilities"`
}

// NewStore creates a Store over the given file path.
func NewStore(path string, encryptionKey []byte) *Store {
	return &Store{
		path:          path,
		encryptionKey: encryptionKey,
		now:           time.Now,
	}
}

// Load decrypts and returns the current capability set. A missing file is
// an empty set, not an error. AEAD verification failure surfaces as
// ErrTamperDetected; everything else file-related as ErrStoreIO.
func (s *Store) Load(ctx context.Context) ([]Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(_ context.Context) ([]Capability, error) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading capability store: %v", apperrors.ErrStoreIO, err)
	}

	plaintext, err := security.Open(blob, s.encryptionKey)
	if err != nil {
		if errors.Is(err, security.ErrSealOpen) {
			return nil, fmt.Errorf("%w: capability store failed authenticated decryption", apperrors.ErrTamperDetected)
		}
		return nil, fmt.Errorf("%w: decrypting capability store: %v", apperrors.ErrStoreIO, err)
	}

	var envelope storeEnvelope
	if err := json.Unmarshal(plaintext, &envelope); err != nil {
		return nil, fmt.Errorf("%w: capability store payload is not decodable", apperrors.ErrTamperDetected)
	}
	return envelope.Capabilities, nil
}

// Save serializes, encrypts, and atomically writes the capability set.
func (s *Store) Save(ctx context.Context, caps []Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, caps)
}

func (s *Store) saveLocked(ctx context.Context, caps []Capability) error {
	envelope := storeEnvelope{Version: 1, Capabilities: caps}
	plaintext, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("serializing capability store: %w", err)
	}

	blob, err := security.Seal(plaintext, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("encrypting capability store: %w", err)
	}

	if err := security.WriteFileAtomic(ctx, s.path, blob, 0o600); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: writing capability store: %v", apperrors.ErrStoreIO, err)
	}
	return nil
}

// Mutate runs fn against the current set under the store lock and
// persists the result iff fn reports a change. This is the only supported
// read-modify-write path.
func (s *Store) Mutate(ctx context.Context, fn func(caps []Capability) ([]Capability, bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caps, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	updated, changed, err := fn(caps)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.saveLocked(ctx, updated)
}

// PurgeExpired removes all capabilities whose expiry has passed, returns
// the number removed, and re-persists only if the set actually changed.
// Unexpired records are carried over untouched.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	caps, err := s.loadLocked(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	kept := caps[:0:0]
	removed := 0
	for _, c := range caps {
		if c.IsExpired(now) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.saveLocked(ctx, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// Path returns the store file location, used by the tamper detector.
func (s *Store) Path() string {
	return s.path
}
