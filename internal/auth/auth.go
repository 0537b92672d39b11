package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/kalambet/clawkpit/internal/storage"
)

// ErrUnauthenticated is returned when a credential does not resolve to a user.
var ErrUnauthenticated = errors.New("invalid or missing credentials")

// Kind is the kind of credential a request was authenticated with.
type Kind int

const (
	KindSession Kind = iota
	KindAgentKey
)

// Caller identifies the owner of a request and how they authenticated.
type Caller struct {
	UserID string
	Kind   Kind
}

func SessionCaller(userID string) Caller { return Caller{UserID: userID, Kind: KindSession} }

func AgentCaller(userID string) Caller { return Caller{UserID: userID, Kind: KindAgentKey} }

// DefaultActor is the actor recorded when a request does not name one.
func (c Caller) DefaultActor() storage.Actor {
	if c.Kind == KindAgentKey {
		return storage.ActorAI
	}
	return storage.ActorUser
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service resolves sessions and agent keys and mints new keys.
type Service struct {
	store      *storage.Store
	clock      Clock
	sessionTTL time.Duration
}

func NewService(store *storage.Store) *Service {
	return NewServiceWithClock(store, realClock{})
}

// NewServiceWithClock creates a Service with a custom clock (for testing).
func NewServiceWithClock(store *storage.Store, clock Clock) *Service {
	return &Service{store: store, clock: clock, sessionTTL: 14 * 24 * time.Hour}
}

var keyDomain = [32]byte{
	'c', 'l', 'a', 'w', 'k', 'p', 'i', 't', '.', 'a', 'p', 'i', '-', 'k', 'e', 'y',
}

// HashKey returns the digest stored in place of a plaintext agent key.
func HashKey(key string) string {
	h, err := blake3.NewKeyed(keyDomain[:])
	if err != nil {
		panic(fmt.Sprintf("blake3 keyed hasher: %v", err))
	}
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// EnsureUser returns the user with email, creating it when absent.
func (s *Service) EnsureUser(ctx context.Context, email, name string) (storage.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return storage.User{}, fmt.Errorf("email is required")
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, err
	}
	now := s.clock.Now()
	u = storage.User{ID: uuid.New().String(), Email: email, Name: name, CreatedAt: now, UpdatedAt: now}
	if err := s.store.InsertUser(ctx, u); err != nil {
		return storage.User{}, err
	}
	return u, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewSession opens a browser session for userID.
func (s *Service) NewSession(ctx context.Context, userID string) (storage.Session, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return storage.Session{}, err
	}
	id, err := randomHex(32)
	if err != nil {
		return storage.Session{}, err
	}
	now := s.clock.Now()
	sess := storage.Session{ID: id, UserID: userID, ExpiresAt: now.Add(s.sessionTTL), CreatedAt: now}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return storage.Session{}, err
	}
	return sess, nil
}

// ResolveSession maps a session id to its caller.
func (s *Service) ResolveSession(ctx context.Context, id string) (Caller, error) {
	if id == "" {
		return Caller{}, ErrUnauthenticated
	}
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Caller{}, ErrUnauthenticated
	}
	if err != nil {
		return Caller{}, err
	}
	if !s.clock.Now().Before(sess.ExpiresAt) {
		return Caller{}, ErrUnauthenticated
	}
	return SessionCaller(sess.UserID), nil
}

// EndSession signs a session out.
func (s *Service) EndSession(ctx context.Context, id string) error {
	return s.store.DeleteSession(ctx, id)
}

// PurgeExpiredSessions deletes sessions past their expiry.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.clock.Now())
}

// ResolveAPIKey maps a plaintext agent key to its caller.
func (s *Service) ResolveAPIKey(ctx context.Context, key string) (Caller, error) {
	if key == "" {
		return Caller{}, ErrUnauthenticated
	}
	k, err := s.store.GetAPIKeyByHash(ctx, HashKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return Caller{}, ErrUnauthenticated
	}
	if err != nil {
		return Caller{}, err
	}
	return AgentCaller(k.UserID), nil
}

// MintKeyTx creates a durable agent key for userID inside q's transaction
// and returns its id and plaintext. Only the digest is stored.
func (s *Service) MintKeyTx(ctx context.Context, q *storage.Queries, userID, name string) (string, string, error) {
	plain, err := randomHex(32)
	if err != nil {
		return "", "", err
	}
	k := storage.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		KeyHash:   HashKey(plain),
		Name:      name,
		CreatedAt: s.clock.Now(),
	}
	if err := q.InsertAPIKey(ctx, k); err != nil {
		return "", "", err
	}
	return k.ID, plain, nil
}

func (s *Service) MintKey(ctx context.Context, userID, name string) (string, string, error) {
	var id, plain string
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		id, plain, err = s.MintKeyTx(ctx, q, userID, name)
		return err
	})
	return id, plain, err
}

func (s *Service) ListKeys(ctx context.Context, userID string) ([]storage.APIKey, error) {
	return s.store.ListAPIKeys(ctx, userID)
}

func (s *Service) RevokeKey(ctx context.Context, userID, id string) error {
	return s.store.DeleteAPIKey(ctx, userID, id)
}

func (s *Service) User(ctx context.Context, userID string) (storage.User, error) {
	return s.store.GetUser(ctx, userID)
}
