// Package filestore persists credentials in a JSON document on disk.
//
// Writes are atomic (write-tmp, fsync, rename) and serialised by an
// in-process mutex plus an flock on path+".lock", so several processes
// may share one file. Each namespace is an independent entry in the document.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ credentials.Store = (*Store)(nil)

const documentVersion = 1

// document is the on-disk layout.
type document struct {
	Version    int              `json:"version"`
	Namespaces map[string]entry `json:"namespaces"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type entry struct {
	AccessToken  string                `json:"access_token,omitempty"`
	RefreshToken string                `json:"refresh_token,omitempty"`
	Identity     *credentials.Identity `json:"identity,omitempty"`
}

type Store struct {
	path   string
	ns     string
	mu     sync.Mutex
	logger zerolog.Logger
}

type Option func(*Store)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a store backed by the file at path. The parent directory is
// created with 0700 permissions if needed.
func New(path, namespace string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("[filestore.New] path is required")
	}
	if namespace == "" {
		namespace = credentials.DefaultNamespace
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("[filestore.New] create directory: %w", err)
	}
	s := &Store{
		path:   path,
		ns:     namespace,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the configured file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(_ context.Context) credentials.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("credential file unreadable, treating as signed out")
		return credentials.Session{}
	}
	e, ok := doc.Namespaces[s.ns]
	if !ok {
		return credentials.Session{}
	}
	return credentials.Session{
		Identity:     e.Identity,
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
	}
}

func (s *Store) Save(_ context.Context, update credentials.Update) error {
	return s.mutate(func(doc *document) {
		e := doc.Namespaces[s.ns]
		next := update.Apply(credentials.Session{
			Identity:     e.Identity,
			AccessToken:  e.AccessToken,
			RefreshToken: e.RefreshToken,
		})
		if next.IsEmpty() {
			delete(doc.Namespaces, s.ns)
			return
		}
		doc.Namespaces[s.ns] = entry{
			AccessToken:  next.AccessToken,
			RefreshToken: next.RefreshToken,
			Identity:     next.Identity,
		}
	})
}

func (s *Store) Clear(_ context.Context) error {
	return s.mutate(func(doc *document) {
		delete(doc.Namespaces, s.ns)
	})
}

func (s *Store) Close() error {
	return nil
}

// mutate runs fn against the current document under both locks and writes
// the result back atomically.
func (s *Store) mutate(fn func(doc *document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("[filestore] open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("[filestore] acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	doc, err := s.read()
	if err != nil {
		// A corrupt document is replaced rather than blocking sign-out.
		s.logger.Warn().Err(err).Str("path", s.path).Msg("replacing unreadable credential file")
		doc = newDocument()
	}

	fn(doc)
	doc.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("[filestore] marshal: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}
	s.logger.Debug().Str("path", s.path).Str("namespace", s.ns).Msg("credentials saved")
	return nil
}

func (s *Store) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newDocument(), nil
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil && info.Mode().Perm()&0o077 != 0 {
			s.logger.Warn().Str("path", s.path).Str("mode", fmt.Sprintf("%04o", info.Mode().Perm())).
				Msg("credential file permissions should be 0600")
		}
	}

	doc := newDocument()
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	if doc.Namespaces == nil {
		doc.Namespaces = make(map[string]entry)
	}
	return doc, nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over the
// target path. On any error the temp file is removed.
func (s *Store) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("[filestore] create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("[filestore] write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("[filestore] fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("[filestore] close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("[filestore] rename temp file: %w", err)
	}
	return nil
}

func newDocument() *document {
	return &document{
		Version:    documentVersion,
		Namespaces: make(map[string]entry),
	}
}
