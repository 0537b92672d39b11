package pairing

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *Service
	auth  *auth.Service
	store *storage.Store
	clock *fakeClock
	alice storage.User
	bob   storage.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}
	a := auth.NewServiceWithClock(store, clock)
	ctx := context.Background()
	alice, err := a.EnsureUser(ctx, "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	bob, err := a.EnsureUser(ctx, "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	return &fixture{
		svc:   NewServiceWithClock(store, a, DefaultConfig(), clock),
		auth:  a,
		store: store,
		clock: clock,
		alice: alice,
		bob:   bob,
	}
}

var displayCodePattern = regexp.MustCompile(`^[ABCDEFGHJKLMNPQRSTUVWXYZ2-9]{4}-[ABCDEFGHJKLMNPQRSTUVWXYZ2-9]{4}$`)

func TestStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("unknown email: expected ErrUserNotFound, got %v", err)
	}

	res, err := f.svc.Start(ctx, "  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !displayCodePattern.MatchString(res.DisplayCode) {
		t.Errorf("display code %q has the wrong shape", res.DisplayCode)
	}
	if len(res.DeviceCode) != 48 {
		t.Errorf("device code length = %d, want 48", len(res.DeviceCode))
	}
	if want := f.clock.Now().Add(10 * time.Minute); !res.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", res.ExpiresAt, want)
	}
	if res.Interval != 3 {
		t.Errorf("Interval = %d, want 3", res.Interval)
	}

	p, err := f.store.GetPairingByDeviceCode(ctx, res.DeviceCode)
	if err != nil {
		t.Fatalf("GetPairingByDeviceCode: %v", err)
	}
	if p.Status != storage.PairingPending || p.Email != "alice@example.com" {
		t.Errorf("unexpected stored pairing: %+v", p)
	}
}

func TestFullFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	poll, err := f.svc.Poll(ctx, res.DeviceCode)
	if err != nil {
		t.Fatalf("Poll before confirm: %v", err)
	}
	if poll.Status != storage.PairingPending || poll.Credential != "" {
		t.Errorf("expected pending without credential, got %+v", poll)
	}

	// Codes are typed by hand, so case and padding are forgiven.
	typed := "  " + strings.ToLower(res.DisplayCode) + " "
	if err := f.svc.Confirm(ctx, ConfirmRequest{DisplayCode: typed, UserID: f.alice.ID, RemoteAddr: "10.0.0.1"}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := f.svc.Confirm(ctx, ConfirmRequest{DisplayCode: res.DisplayCode, UserID: f.alice.ID, RemoteAddr: "10.0.0.1"}); !errors.Is(err, ErrCodeAlreadyUsed) {
		t.Errorf("second confirm: expected ErrCodeAlreadyUsed, got %v", err)
	}

	f.clock.Advance(4 * time.Second)
	poll, err = f.svc.Poll(ctx, res.DeviceCode)
	if err != nil {
		t.Fatalf("Poll after confirm: %v", err)
	}
	if poll.Status != storage.PairingAuthorized || poll.Credential == "" {
		t.Fatalf("expected credential, got %+v", poll)
	}
	caller, err := f.auth.ResolveAPIKey(ctx, poll.Credential)
	if err != nil {
		t.Fatalf("ResolveAPIKey: %v", err)
	}
	if caller != auth.AgentCaller(f.alice.ID) {
		t.Errorf("credential resolves to %+v", caller)
	}

	f.clock.Advance(4 * time.Second)
	if _, err := f.svc.Poll(ctx, res.DeviceCode); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("second poll: expected ErrAlreadyConsumed, got %v", err)
	}
	p, err := f.store.GetPairingByDeviceCode(ctx, res.DeviceCode)
	if err != nil {
		t.Fatalf("GetPairingByDeviceCode: %v", err)
	}
	if p.Status != storage.PairingConsumed || p.Credential != "" {
		t.Errorf("consumed pairing should not hold the credential: %+v", p)
	}
}

func TestConfirm_CredentialBelongsToConfirmer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.svc.Confirm(ctx, ConfirmRequest{DisplayCode: res.DisplayCode, UserID: f.bob.ID, RemoteAddr: "10.0.0.2"}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	poll, err := f.svc.Poll(ctx, res.DeviceCode)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	caller, err := f.auth.ResolveAPIKey(ctx, poll.Credential)
	if err != nil {
		t.Fatalf("ResolveAPIKey: %v", err)
	}
	if caller.UserID != f.bob.ID {
		t.Errorf("credential owner = %s, want bob", caller.UserID)
	}
}

func TestConfirm_InvalidCode(t *testing.T) {
	f := newFixture(t)
	for _, code := range []string{"", "ABCD-EFGH", "THIS-CODE-IS-FAR-TOO-LONG-TO-BE-REAL-ANYWAY"} {
		err := f.svc.Confirm(context.Background(), ConfirmRequest{DisplayCode: code, UserID: f.alice.ID, RemoteAddr: "10.0.0.3"})
		if !errors.Is(err, ErrInvalidCode) {
			t.Errorf("Confirm(%q): expected ErrInvalidCode, got %v", code, err)
		}
	}
}

func TestExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Advance(10 * time.Minute)

	if err := f.svc.Confirm(ctx, ConfirmRequest{DisplayCode: res.DisplayCode, UserID: f.alice.ID, RemoteAddr: "10.0.0.4"}); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("confirm: expected ErrCodeExpired, got %v", err)
	}
	p, err := f.store.GetPairingByDeviceCode(ctx, res.DeviceCode)
	if err != nil {
		t.Fatalf("GetPairingByDeviceCode: %v", err)
	}
	if p.Status != storage.PairingExpired {
		t.Errorf("status after lapsed confirm = %s, want expired", p.Status)
	}
	if err := f.svc.Confirm(ctx, ConfirmRequest{DisplayCode: res.DisplayCode, UserID: f.alice.ID, RemoteAddr: "10.0.0.4"}); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("second confirm: expected ErrCodeExpired, got %v", err)
	}
	if _, err := f.svc.Poll(ctx, res.DeviceCode); !errors.Is(err, ErrExpired) {
		t.Errorf("poll: expected ErrExpired, got %v", err)
	}
}

func TestExpiry_AuthorizedButUncollected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.svc.Confirm(ctx, ConfirmRequest{DisplayCode: res.DisplayCode, UserID: f.alice.ID, RemoteAddr: "10.0.0.5"}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	authorized, err := f.store.GetPairingByDeviceCode(ctx, res.DeviceCode)
	if err != nil {
		t.Fatalf("GetPairingByDeviceCode: %v", err)
	}
	if authorized.Credential == "" {
		t.Fatal("authorized pairing should hold the credential")
	}

	f.clock.Advance(11 * time.Minute)
	if _, err := f.svc.Poll(ctx, res.DeviceCode); !errors.Is(err, ErrExpired) {
		t.Errorf("poll: expected ErrExpired, got %v", err)
	}

	p, err := f.store.GetPairingByDeviceCode(ctx, res.DeviceCode)
	if err != nil {
		t.Fatalf("GetPairingByDeviceCode: %v", err)
	}
	if p.Status != storage.PairingExpired {
		t.Errorf("status = %s, want expired", p.Status)
	}
	if p.Credential != "" {
		t.Error("expired pairing still stores its credential")
	}
	if _, err := f.auth.ResolveAPIKey(ctx, authorized.Credential); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("uncollected key should be revoked, ResolveAPIKey err = %v", err)
	}

	f.clock.Advance(3 * time.Second)
	if _, err := f.svc.Poll(ctx, res.DeviceCode); !errors.Is(err, ErrExpired) {
		t.Errorf("second poll: expected ErrExpired, got %v", err)
	}
}

func TestExpiry_CollectedKeySurvives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.svc.Confirm(ctx, ConfirmRequest{DisplayCode: res.DisplayCode, UserID: f.alice.ID, RemoteAddr: "10.0.0.6"}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	got, err := f.svc.Poll(ctx, res.DeviceCode)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	f.clock.Advance(11 * time.Minute)
	if _, err := f.svc.Poll(ctx, res.DeviceCode); !errors.Is(err, ErrExpired) {
		t.Errorf("poll after expiry: expected ErrExpired, got %v", err)
	}
	p, err := f.store.GetPairingByDeviceCode(ctx, res.DeviceCode)
	if err != nil {
		t.Fatalf("GetPairingByDeviceCode: %v", err)
	}
	if p.Status != storage.PairingConsumed {
		t.Errorf("status = %s, want consumed", p.Status)
	}
	if _, err := f.auth.ResolveAPIKey(ctx, got.Credential); err != nil {
		t.Errorf("collected key must keep working: %v", err)
	}
}

func TestPoll_UnknownDeviceCode(t *testing.T) {
	f := newFixture(t)
	for _, code := range []string{"", "deadbeef"} {
		if _, err := f.svc.Poll(context.Background(), code); !errors.Is(err, ErrInvalidDeviceCode) {
			t.Errorf("Poll(%q): expected ErrInvalidDeviceCode, got %v", code, err)
		}
	}
}

func TestPoll_RateLimitedPerDeviceCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Start(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	b, err := f.svc.Start(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := f.svc.Poll(ctx, a.DeviceCode); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	_, err = f.svc.Poll(ctx, a.DeviceCode)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("second poll: expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter < 2*time.Second || rl.RetryAfter > 3*time.Second+time.Millisecond {
		t.Errorf("RetryAfter = %v, want about 3s", rl.RetryAfter)
	}

	if _, err := f.svc.Poll(ctx, b.DeviceCode); err != nil {
		t.Errorf("other device code should not be limited: %v", err)
	}

	f.clock.Advance(4 * time.Second)
	if _, err := f.svc.Poll(ctx, a.DeviceCode); err != nil {
		t.Errorf("poll after interval: %v", err)
	}
}

func TestConfirm_RateLimitedPerAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	guess := ConfirmRequest{DisplayCode: "AAAA-AAAA", UserID: f.alice.ID, RemoteAddr: "192.0.2.7"}
	for i := 0; i < 10; i++ {
		if err := f.svc.Confirm(ctx, guess); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("guess %d: expected ErrInvalidCode, got %v", i, err)
		}
	}
	var rl *RateLimitError
	if err := f.svc.Confirm(ctx, guess); !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", rl.RetryAfter)
	}

	guess.RemoteAddr = "192.0.2.8"
	if err := f.svc.Confirm(ctx, guess); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("other address should not be limited: %v", err)
	}
}

func TestJanitor_RemovesLongExpiredPairings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.svc.Start(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Advance(25 * time.Hour)
	fresh, err := f.svc.Start(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.svc.Poll(ctx, fresh.DeviceCode); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	j := NewJanitor(f.svc, time.Minute)
	if err := j.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if _, err := f.store.GetPairingByDeviceCode(ctx, old.DeviceCode); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old pairing should be removed, got %v", err)
	}
	if _, err := f.store.GetPairingByDeviceCode(ctx, fresh.DeviceCode); err != nil {
		t.Errorf("fresh pairing should survive: %v", err)
	}
	if n := f.svc.poll.size(); n != 1 {
		t.Errorf("poll limiter buckets = %d, want 1", n)
	}

	f.clock.Advance(time.Minute)
	if err := j.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := f.svc.poll.size(); n != 0 {
		t.Errorf("idle poll limiter buckets = %d, want 0", n)
	}
}

func TestJanitor_PurgesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.auth.NewSession(ctx, f.alice.ID)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	f.clock.Advance(sess.ExpiresAt.Sub(f.clock.Now()) + time.Second)

	if err := NewJanitor(f.svc, time.Minute).WithSessions(f.auth).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, err := f.store.GetSession(ctx, sess.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired session should be purged, got %v", err)
	}
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewJanitor(f.svc, 10*time.Millisecond).Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
