package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kokukuma/eudiw-verifier/document"
	"github.com/kokukuma/eudiw-verifier/internal/logfields"
)

const (
	DefaultSessionTTL    = 10 * time.Minute
	DefaultSweepInterval = time.Minute

	NonceLength = 32
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Session is stored by value; every change replaces the whole record.
type Session struct {
	ID            string
	Nonce         string
	EncryptionKey *ecdsa.PrivateKey
	Status        Status
	PidClaims     *document.PidClaims
	ErrorMessage  string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

func (s Session) Terminal() bool {
	return s.Status == StatusComplete || s.Status == StatusError
}

type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]Session

	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type SessionsOption func(*Sessions)

func WithSessionTTL(ttl time.Duration) SessionsOption {
	return func(s *Sessions) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithSessionClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) {
		s.now = now
	}
}

func WithSessionLogger(logger *zap.Logger) SessionsOption {
	return func(s *Sessions) {
		s.logger = logger
	}
}

func NewSessions(opts ...SessionsOption) *Sessions {
	s := &Sessions{
		sessions: make(map[string]Session),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSession creates and stores a pending session with a fresh nonce and
// response encryption key.
func (s *Sessions) NewSession() (Session, error) {
	nonce, err := CreateNonce()
	if err != nil {
		return Session{}, fmt.Errorf("failed to create nonce: %w", err)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	now := s.now()
	session := Session{
		ID:            uuid.New().String(),
		Nonce:         nonce.String(),
		EncryptionKey: key,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	s.Create(session)
	return session, nil
}

func (s *Sessions) Create(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session
}

// Get returns ErrSessionNotFound for unknown ids and ErrSessionExpired for
// records past their lifetime that the sweep has not removed yet.
func (s *Sessions) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.IsExpired(session) {
		return Session{}, ErrSessionExpired
	}
	return session, nil
}

// Update replaces the stored record. It reports false when the id is
// unknown or the stored record is already terminal or expired.
func (s *Sessions) Update(id string, session Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok || current.Terminal() || s.IsExpired(current) {
		return false
	}
	session.ID = id
	s.sessions[id] = session
	return true
}

func (s *Sessions) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

func (s *Sessions) IsExpired(session Session) bool {
	return s.now().After(session.ExpiresAt)
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

// Sweep deletes every expired record and returns how many were removed.
func (s *Sessions) Sweep() int {
	s.mu.RLock()
	var expired []string
	for id, session := range s.sessions {
		if s.IsExpired(session) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		if s.Delete(id) {
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired sessions removed", logfields.WithCount(n), zap.Int("live", s.Len()))
			}
		}
	}
}

type Nonce []byte

func CreateNonce() (Nonce, error) {
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

func (n Nonce) String() string {
	return base64.RawURLEncoding.EncodeToString(n)
}
