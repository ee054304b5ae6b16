// Package memstore is an in-memory credentials.Store. It survives nothing but
// is safe for concurrent use, which makes it the default for tests and
// short-lived processes.
package memstore

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-client/credentials"
)

var _ credentials.Store = (*Store)(nil)

type Store struct {
	sessions map[string]credentials.Session // namespace -> session
	lock     sync.RWMutex
	ns       string
}

func New(namespace string) *Store {
	if namespace == "" {
		namespace = credentials.DefaultNamespace
	}
	return &Store{
		sessions: make(map[string]credentials.Session),
		ns:       namespace,
	}
}

func (s *Store) Load(_ context.Context) credentials.Session {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return copySession(s.sessions[s.ns])
}

func (s *Store) Save(_ context.Context, update credentials.Update) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	next := update.Apply(s.sessions[s.ns])
	if next.IsEmpty() {
		delete(s.sessions, s.ns)
		return nil
	}
	s.sessions[s.ns] = next
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.sessions, s.ns)
	return nil
}

func (s *Store) Close() error {
	return nil
}

func copySession(in credentials.Session) credentials.Session {
	if in.Identity != nil {
		id := *in.Identity
		in.Identity = &id
	}
	return in
}
