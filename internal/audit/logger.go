package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	apperrors "arcacli/internal/errors"
	"arcacli/internal/infrastructure"
)

// Logger appends entries to a line-delimited JSON file. All appends go
// through a single mutex-guarded writer so concurrent callers keep write
// order, and each append is synced before returning.
type Logger struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewLogger creates an audit Logger writing to the given file.
func NewLogger(path string) *Logger {
	return &Logger{
		path:   path,
		logger: infrastructure.WithComponent(infrastructure.GetLogger(), "audit"),
	}
}

// Append writes one entry. Secret material must never be passed in the
// detail field; only metadata about the decision.
func (l *Logger) Append(ctx context.Context, entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("%w: opening audit log: %v", apperrors.ErrStoreIO, err)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: appending audit entry: %v", apperrors.ErrStoreIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: syncing audit log: %v", apperrors.ErrStoreIO, err)
	}

	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit entry recorded",
		slog.String("action", entry.Action),
		slog.String("outcome", string(entry.Outcome)),
	)
	return nil
}

// ReadAll returns all entries in write order. An unreadable trailing
// partial line (a torn write from a crash) is skipped rather than failing
// the whole read; a corrupt line in the middle is skipped and counted the
// same way.
func (l *Logger) ReadAll(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: opening audit log: %v", apperrors.ErrStoreIO, err)
	}
	defer f.Close() //nolint:errcheck

	var entries []Entry
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scanning audit log: %v", apperrors.ErrStoreIO, err)
	}
	if skipped > 0 {
		l.logger.WarnContext(ctx, "skipped unreadable audit entries",
			slog.Int("skipped", skipped),
		)
	}
	return entries, nil
}

// Count returns the number of readable entries.
func (l *Logger) Count(ctx context.Context) (int, error) {
	entries, err := l.ReadAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Purge truncates the log after recording the purge itself, so the fresh
// log always starts with the entry explaining why history is gone.
func (l *Logger) Purge(ctx context.Context, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := NewEntry("audit.purge", reason, OutcomeSuccess)
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding purge entry: %w", err)
	}

	if err := os.WriteFile(l.path, append(line, '\n'), 0o600); err != nil {
		return fmt.Errorf("%w: purging audit log: %v", apperrors.ErrStoreIO, err)
	}
	l.logger.WarnContext(ctx, "audit log purged", slog.String("reason", reason))
	return nil
}
