package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/visor-agent/visor/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// FileStore keeps one JSON document per session id under a directory.
type FileStore struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
	logger     zerolog.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".visor", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	logger.Info().Str("dir", dir).Msg("Session file store initialized")

	return &FileStore{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
		logger:     logger,
	}, nil
}

// validateID rejects ids that could escape the store directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

func (fs *FileStore) lock(id string) *sync.Mutex {
	fs.locksMu.Lock()
	defer fs.locksMu.Unlock()
	if l, ok := fs.writeLocks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	fs.writeLocks[id] = l
	return l
}

// Create persists a new session. The id must not already be in use.
func (fs *FileStore) Create(ctx context.Context, sess *Session) error {
	if err := validateID(sess.ID); err != nil {
		return err
	}
	if _, err := os.Stat(fs.path(sess.ID)); err == nil {
		return fmt.Errorf("session %q already exists", sess.ID)
	}
	return fs.Save(ctx, sess)
}

// Save writes the full session document atomically.
func (fs *FileStore) Save(ctx context.Context, sess *Session) error {
	ctx, span := tracing.StartSpan(
		ctx,
		"visor.session",
		"session.save",
		attribute.String("session_id", sess.ID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, fs.logger).With().Str("session_id", sess.ID).Logger()

	if err := validateID(sess.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	lock := fs.lock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	path := fs.path(sess.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	logger.Debug().Int("messages", len(sess.Messages)).Msg("Session saved")
	return nil
}

// Load reads a session document.
func (fs *FileStore) Load(ctx context.Context, id string) (*Session, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"visor.session",
		"session.load",
		attribute.String("session_id", id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, fs.logger).With().Str("session_id", id).Logger()

	if err := validateID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	data, err := os.ReadFile(fs.path(id))
	if os.IsNotExist(err) {
		logger.Debug().Msg("Session does not exist")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	return &sess, nil
}

// Delete removes a session document.
func (fs *FileStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	lock := fs.lock(id)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(fs.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List reads every session document and returns summaries, most recently
// updated first. Unparseable files are skipped with a warning.
func (fs *FileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var summaries []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		sess, err := fs.Load(ctx, id)
		if err != nil {
			fs.logger.Warn().Str("session_id", id).Err(err).Msg("Skipping unreadable session")
			continue
		}
		summaries = append(summaries, sess.summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}
