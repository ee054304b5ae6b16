package devbackend

import (
	"sync"
	"time"
)

// accessTokenLedger remembers every access token issued so that all of them
// can be revoked at once.
type accessTokenLedger struct {
	issued  map[string]time.Time
	revoked map[string]time.Time
	mu      sync.RWMutex
}

func newAccessTokenLedger() *accessTokenLedger {
	return &accessTokenLedger{
		issued:  make(map[string]time.Time),
		revoked: make(map[string]time.Time),
	}
}

func (l *accessTokenLedger) Issue(jti string, exp time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issued[jti] = exp
}

func (l *accessTokenLedger) IsRevoked(jti string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, exists := l.revoked[jti]
	return exists
}

// RevokeIssued revokes every token issued so far. Tokens issued afterwards
// are unaffected.
func (l *accessTokenLedger) RevokeIssued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.issued)
	for jti, exp := range l.issued {
		l.revoked[jti] = exp
	}
	l.issued = make(map[string]time.Time)
	return n
}

// Cleanup drops revoked entries that would have expired anyway.
func (l *accessTokenLedger) Cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for jti, exp := range l.revoked {
		if now.After(exp) {
			delete(l.revoked, jti)
		}
	}
}
