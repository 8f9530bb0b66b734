package auth

import (
	"sort"
	"sync"
	"time"
)

// MaxTokenLifetime bounds how long after issue a token is accepted. User
// cut-offs older than this can no longer match an accepted token.
const MaxTokenLifetime = 24 * time.Hour

// RevocationList tracks revoked token ids and per-user cut-off times. A
// token is rejected when its jti is listed or when it was issued before its
// subject's cut-off. Entries are dropped once the token would have expired.
type RevocationList struct {
	mu      sync.RWMutex
	tokens  map[string]Revocation
	cutoffs map[string]time.Time
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// Revocation describes one revoked token.
type Revocation struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"userId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewRevocationList returns an empty list. Call Start to sweep expired
// entries in the background.
func NewRevocationList() *RevocationList {
	return &RevocationList{
		tokens:  make(map[string]Revocation),
		cutoffs: make(map[string]time.Time),
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// Start sweeps expired entries every interval until Close.
func (l *RevocationList) Start(interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-t.C:
				l.Sweep()
			}
		}
	}()
}

func (l *RevocationList) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *RevocationList) Revoke(r Revocation) {
	l.mu.Lock()
	l.tokens[r.JTI] = r
	l.mu.Unlock()
}

// RevokeUser rejects every token of userID issued at or before now.
func (l *RevocationList) RevokeUser(userID string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	at := l.now()
	l.cutoffs[userID] = at
	return at
}

// IsRevoked reports whether a token with the given claims must be refused.
func (l *RevocationList) IsRevoked(jti, userID string, issuedAt time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.tokens[jti]; ok && jti != "" {
		return true
	}
	cut, ok := l.cutoffs[userID]
	return ok && !issuedAt.After(cut)
}

// Entries returns the revoked tokens ordered by jti.
func (l *RevocationList) Entries() []Revocation {
	l.mu.RLock()
	out := make([]Revocation, 0, len(l.tokens))
	for _, r := range l.tokens {
		out = append(out, r)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JTI < out[j].JTI })
	return out
}

// Sweep drops entries for tokens that have expired anyway and user
// cut-offs older than MaxTokenLifetime.
func (l *RevocationList) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for jti, r := range l.tokens {
		if now.After(r.ExpiresAt) {
			delete(l.tokens, jti)
		}
	}
	for user, cut := range l.cutoffs {
		if now.Sub(cut) > MaxTokenLifetime {
			delete(l.cutoffs, user)
		}
	}
}
