package pairing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/storage"
)

var (
	ErrUserNotFound      = errors.New("no account for that email")
	ErrInvalidCode       = errors.New("invalid pairing code")
	ErrCodeAlreadyUsed   = errors.New("pairing code already used")
	ErrCodeExpired       = errors.New("pairing code expired")
	ErrInvalidDeviceCode = errors.New("invalid device code")
	ErrExpired           = errors.New("pairing expired")
	ErrAlreadyConsumed   = errors.New("credential already delivered")
)

// codeAlphabet leaves out 0, 1, I and O.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxDisplayCodeLen = 32

type Config struct {
	CodeTTL       time.Duration
	ConfirmLimit  int
	ConfirmWindow time.Duration
	PollInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		CodeTTL:       10 * time.Minute,
		ConfirmLimit:  10,
		ConfirmWindow: 10 * time.Minute,
		PollInterval:  3 * time.Second,
	}
}

// KeyMinter creates durable agent credentials inside a transaction.
type KeyMinter interface {
	MintKeyTx(ctx context.Context, q *storage.Queries, userID, name string) (id, plaintext string, err error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service runs the device pairing flow: an agent starts a pairing by
// email, a signed-in human confirms the display code, and the agent
// collects the minted credential by polling once.
type Service struct {
	store   *storage.Store
	minter  KeyMinter
	cfg     Config
	clock   Clock
	confirm *windowLimiter
	poll    *keyedLimiter
}

func NewService(store *storage.Store, minter KeyMinter, cfg Config) *Service {
	return NewServiceWithClock(store, minter, cfg, realClock{})
}

func NewServiceWithClock(store *storage.Store, minter KeyMinter, cfg Config, clock Clock) *Service {
	def := DefaultConfig()
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = def.CodeTTL
	}
	if cfg.ConfirmLimit <= 0 {
		cfg.ConfirmLimit = def.ConfirmLimit
	}
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = def.ConfirmWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Service{
		store:   store,
		minter:  minter,
		cfg:     cfg,
		clock:   clock,
		confirm: newWindowLimiter(cfg.ConfirmLimit, cfg.ConfirmWindow),
		poll:    perInterval(cfg.PollInterval),
	}
}

type StartResult struct {
	DisplayCode string    `json:"display_code"`
	DeviceCode  string    `json:"device_code"`
	ExpiresAt   time.Time `json:"expires_at"`
	Interval    int       `json:"interval"`
}

// Start opens a pending pairing for the account with email.
func (s *Service) Start(ctx context.Context, email string) (StartResult, error) {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return StartResult{}, ErrUserNotFound
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return StartResult{}, ErrUserNotFound
		}
		return StartResult{}, err
	}

	display, err := newDisplayCode()
	if err != nil {
		return StartResult{}, err
	}
	device, err := newDeviceCode()
	if err != nil {
		return StartResult{}, err
	}
	now := s.clock.Now().UTC()
	p := storage.PairingSession{
		ID:          uuid.New().String(),
		DisplayCode: display,
		DeviceCode:  device,
		Email:       email,
		Status:      storage.PairingPending,
		ExpiresAt:   now.Add(s.cfg.CodeTTL),
		CreatedAt:   now,
	}
	if err := s.store.InsertPairing(ctx, p); err != nil {
		return StartResult{}, err
	}
	return StartResult{
		DisplayCode: display,
		DeviceCode:  device,
		ExpiresAt:   p.ExpiresAt,
		Interval:    int(s.cfg.PollInterval / time.Second),
	}, nil
}

type ConfirmRequest struct {
	DisplayCode string
	UserID      string
	// RemoteAddr identifies the client network for rate limiting.
	RemoteAddr string
}

// Confirm authorizes a pending pairing for req.UserID and mints the
// credential the agent will collect. The credential belongs to whoever
// confirms, not to the email the pairing was started with.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) error {
	now := s.clock.Now()
	if err := s.confirm.allow(req.RemoteAddr, now); err != nil {
		return err
	}
	code := NormalizeDisplayCode(req.DisplayCode)
	if code == "" || len(code) > maxDisplayCodeLen {
		return ErrInvalidCode
	}

	expired := false
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		p, err := q.GetPairingByDisplayCode(ctx, code)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidCode
		}
		if err != nil {
			return err
		}
		if p.Status == storage.PairingExpired {
			return ErrCodeExpired
		}
		if p.Status != storage.PairingPending {
			return ErrCodeAlreadyUsed
		}
		if !now.Before(p.ExpiresAt) {
			expired = true
			return expire(ctx, q, p)
		}

		keyID, plain, err := s.minter.MintKeyTx(ctx, q, req.UserID, "device "+p.DisplayCode)
		if err != nil {
			return fmt.Errorf("minting pairing key: %w", err)
		}
		if err := q.AuthorizePairing(ctx, p.ID, req.UserID, keyID, plain); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrCodeAlreadyUsed
			}
			return err
		}
		return nil
	})
	if err == nil && expired {
		return ErrCodeExpired
	}
	return err
}

// expire marks a lapsed pairing expired, drops any stored credential and
// revokes the key minted for it, so an uncollected credential never works.
func expire(ctx context.Context, q *storage.Queries, p storage.PairingSession) error {
	if p.Status != storage.PairingPending && p.Status != storage.PairingAuthorized {
		return nil
	}
	if err := q.ExpirePairing(ctx, p.ID); err != nil {
		return err
	}
	if p.Status != storage.PairingAuthorized || p.APIKeyID == "" {
		return nil
	}
	if err := q.DeleteAPIKey(ctx, p.UserID, p.APIKeyID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("revoking uncollected pairing key: %w", err)
	}
	return nil
}

type PollResult struct {
	Status     storage.PairingStatus `json:"status"`
	Credential string                `json:"credential,omitempty"`
}

// Poll reports a pairing's progress. The credential is handed out on the
// first poll after authorization and never again.
func (s *Service) Poll(ctx context.Context, deviceCode string) (PollResult, error) {
	now := s.clock.Now()
	deviceCode = strings.TrimSpace(deviceCode)
	if deviceCode == "" {
		return PollResult{}, ErrInvalidDeviceCode
	}
	if err := s.poll.allow(deviceCode, now); err != nil {
		return PollResult{}, err
	}

	var res PollResult
	expired := false
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		p, err := q.GetPairingByDeviceCode(ctx, deviceCode)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidDeviceCode
		}
		if err != nil {
			return err
		}
		if p.Status == storage.PairingExpired {
			return ErrExpired
		}
		if !now.Before(p.ExpiresAt) {
			expired = true
			return expire(ctx, q, p)
		}

		switch p.Status {
		case storage.PairingPending:
			res = PollResult{Status: storage.PairingPending}
			return nil
		case storage.PairingAuthorized:
			if err := q.ConsumePairing(ctx, p.ID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return ErrAlreadyConsumed
				}
				return err
			}
			res = PollResult{Status: storage.PairingAuthorized, Credential: p.Credential}
			return nil
		default:
			return ErrAlreadyConsumed
		}
	})
	if err == nil && expired {
		return PollResult{}, ErrExpired
	}
	return res, err
}

// Sweep deletes pairings that expired more than a day ago and forgets
// limiter buckets that have been idle long enough to refill.
func (s *Service) Sweep(ctx context.Context) (int64, int, error) {
	now := s.clock.Now()
	n, err := s.store.DeleteExpiredPairings(ctx, now.Add(-retention))
	if err != nil {
		return 0, 0, err
	}
	evicted := s.confirm.evictIdle(now.Add(-s.cfg.ConfirmWindow)) + s.poll.evictIdle(now.Add(-s.cfg.PollInterval))
	return n, evicted, nil
}

// NormalizeDisplayCode uppercases a typed code and trims spaces around it.
func NormalizeDisplayCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newDisplayCode() (string, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating display code: %w", err)
	}
	var sb strings.Builder
	for i, b := range raw {
		if i == 4 {
			sb.WriteByte('-')
		}
		// 256 is a multiple of 32, so the modulo is unbiased.
		sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return sb.String(), nil
}

func newDeviceCode() (string, error) {
	var raw [24]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating device code: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}
