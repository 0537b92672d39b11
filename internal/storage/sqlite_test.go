package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, s *Store, email string) User {
	t.Helper()
	u := User{ID: "u-" + email, Email: email, Name: email, CreatedAt: testNow, UpdatedAt: testNow}
	if err := s.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	return u
}

func seedItem(t *testing.T, s *Store, userID, id string, mutate func(*Item)) Item {
	t.Helper()
	ctx := context.Background()
	var it Item
	err := s.WithTx(ctx, func(q *Queries) error {
		hid, err := q.NextHumanID(ctx, userID)
		if err != nil {
			return err
		}
		it = Item{
			ID: id, HumanID: hid, UserID: userID, Title: "item " + id,
			Urgency: UrgencyUnclear, Tag: TagToDo, Importance: ImportanceMedium, Status: StatusActive,
			CreatedBy: ActorUser, ModifiedBy: ActorUser,
			CreatedAt: testNow, UpdatedAt: testNow, OpenedAt: testNow,
		}
		if mutate != nil {
			mutate(&it)
		}
		return q.InsertItem(ctx, it)
	})
	if err != nil {
		t.Fatalf("seeding item %s: %v", id, err)
	}
	return it
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_agent_content_external", "idx_agent_content_hash", "idx_items_user_status",
		"idx_items_content", "idx_notes_item", "idx_pairing_display_code",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_init.sql")
	if err != nil || v != 1 {
		t.Errorf("parseMigrationVersion = %d, %v; want 1, nil", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

func TestNextHumanID_SequencePerUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "a@example.com")
	b := seedUser(t, s, "b@example.com")

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextHumanID(ctx, a.ID)
		if err != nil {
			t.Fatalf("NextHumanID: %v", err)
		}
		if got != want {
			t.Errorf("user a: got %d, want %d", got, want)
		}
	}

	got, err := s.NextHumanID(ctx, b.ID)
	if err != nil {
		t.Fatalf("NextHumanID: %v", err)
	}
	if got != 1 {
		t.Errorf("user b first id = %d, want 1", got)
	}
}

func TestNextHumanID_RollbackReleasesNumber(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q *Queries) error {
		if _, err := q.NextHumanID(ctx, u.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	got, err := s.NextHumanID(ctx, u.ID)
	if err != nil {
		t.Fatalf("NextHumanID: %v", err)
	}
	if got != 1 {
		t.Errorf("after rollback got %d, want 1", got)
	}
}

func TestItemRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")

	deadline := testNow.Add(48 * time.Hour)
	seedItem(t, s, u.ID, "i1", func(it *Item) {
		it.Deadline = &deadline
		it.HasAIChanges = true
		it.Description = "desc"
	})

	got, err := s.GetItem(ctx, u.ID, "i1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.HumanID != 1 || got.Description != "desc" || !got.HasAIChanges {
		t.Errorf("unexpected item: %+v", got)
	}
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Errorf("deadline = %v, want %v", got.Deadline, deadline)
	}
	if !got.CreatedAt.Equal(testNow) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, testNow)
	}
}

func TestGetItem_OtherOwnerNotFound(t *testing.T) {
	s := openTestStore(t)
	a := seedUser(t, s, "a@example.com")
	b := seedUser(t, s, "b@example.com")
	seedItem(t, s, a.ID, "i1", nil)

	if _, err := s.GetItem(context.Background(), b.ID, "i1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHumanIDUniquePerUser(t *testing.T) {
	s := openTestStore(t)
	u := seedUser(t, s, "a@example.com")
	seedItem(t, s, u.ID, "i1", nil)

	err := s.InsertItem(context.Background(), Item{
		ID: "dup", HumanID: 1, UserID: u.ID, Title: "dup",
		Urgency: UrgencyUnclear, Tag: TagToDo, Importance: ImportanceMedium, Status: StatusActive,
		CreatedBy: ActorUser, ModifiedBy: ActorUser, CreatedAt: testNow, UpdatedAt: testNow, OpenedAt: testNow,
	})
	if err == nil {
		t.Fatal("expected unique violation for duplicate human id")
	}
}

func TestListItems_Ordering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")

	early := testNow.Add(24 * time.Hour)
	late := testNow.Add(72 * time.Hour)
	seedItem(t, s, u.ID, "no-deadline-low", func(it *Item) { it.Importance = ImportanceLow })
	seedItem(t, s, u.ID, "no-deadline-high-old", func(it *Item) { it.Importance = ImportanceHigh })
	seedItem(t, s, u.ID, "no-deadline-high-new", func(it *Item) {
		it.Importance = ImportanceHigh
		it.UpdatedAt = testNow.Add(time.Minute)
	})
	seedItem(t, s, u.ID, "late", func(it *Item) { it.Deadline = &late })
	seedItem(t, s, u.ID, "early", func(it *Item) { it.Deadline = &early; it.Importance = ImportanceLow })

	items, total, err := s.ListItems(ctx, u.ID, ItemFilter{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	want := []string{"early", "late", "no-deadline-high-new", "no-deadline-high-old", "no-deadline-low"}
	for i, id := range want {
		if items[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, items[i].ID, id)
		}
	}
}

func TestListItems_FiltersAndPaging(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")

	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("i%d", i)
		seedItem(t, s, u.ID, id, func(it *Item) {
			if i%2 == 1 {
				it.Status = StatusDone
			}
		})
	}
	d := testNow.Add(time.Hour)
	seedItem(t, s, u.ID, "due", func(it *Item) { it.Deadline = &d })

	active := StatusActive
	items, total, err := s.ListItems(ctx, u.ID, ItemFilter{Status: &active, Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if total != 5 {
		t.Errorf("active total = %d, want 5", total)
	}
	if len(items) != 2 {
		t.Errorf("page length = %d, want 2", len(items))
	}

	before := testNow.Add(2 * time.Hour)
	items, total, err = s.ListItems(ctx, u.ID, ItemFilter{DeadlineBefore: &before})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if total != 1 || items[0].ID != "due" {
		t.Errorf("deadline filter: total=%d items=%v", total, items)
	}

	after := testNow.Add(2 * time.Hour)
	_, total, err = s.ListItems(ctx, u.ID, ItemFilter{DeadlineAfter: &after})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if total != 0 {
		t.Errorf("deadline-after total = %d, want 0", total)
	}
}

func TestNotes_NewestFirstAndOwnership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "a@example.com")
	b := seedUser(t, s, "b@example.com")
	seedItem(t, s, a.ID, "i1", nil)

	for i, at := range []time.Time{testNow, testNow.Add(time.Minute)} {
		n := Note{ID: fmt.Sprintf("n%d", i), ItemID: "i1", Author: ActorUser, Content: "c", CreatedAt: at, UpdatedAt: at}
		if err := s.InsertNote(ctx, n); err != nil {
			t.Fatalf("InsertNote: %v", err)
		}
	}

	notes, err := s.ListNotes(ctx, "i1")
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 2 || notes[0].ID != "n1" {
		t.Errorf("expected newest first, got %+v", notes)
	}

	if _, err := s.GetNote(ctx, b.ID, "n0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-owner GetNote: expected ErrNotFound, got %v", err)
	}
	count, err := s.CountNotes(ctx, "i1")
	if err != nil || count != 2 {
		t.Errorf("CountNotes = %d, %v", count, err)
	}
}

func TestContentUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")

	base := AgentContent{UserID: u.ID, Type: ContentMarkdown, Body: "# x", ContentHash: "h1", CreatedAt: testNow, UpdatedAt: testNow}

	c1 := base
	c1.ID = "c1"
	if err := s.InsertContent(ctx, c1); err != nil {
		t.Fatalf("InsertContent: %v", err)
	}
	c2 := base
	c2.ID = "c2"
	if err := s.InsertContent(ctx, c2); err == nil {
		t.Error("expected duplicate hash without external id to be rejected")
	}

	withExt := base
	withExt.ID = "c3"
	withExt.ExternalID = "ext-1"
	if err := s.InsertContent(ctx, withExt); err != nil {
		t.Fatalf("InsertContent with external id: %v", err)
	}
	dupExt := base
	dupExt.ID = "c4"
	dupExt.ExternalID = "ext-1"
	dupExt.ContentHash = "other"
	if err := s.InsertContent(ctx, dupExt); err == nil {
		t.Error("expected duplicate external id to be rejected")
	}

	got, err := s.FindContentByExternalID(ctx, u.ID, "ext-1")
	if err != nil || got.ID != "c3" {
		t.Errorf("FindContentByExternalID = %v, %v", got.ID, err)
	}
	got, err = s.FindContentByHash(ctx, u.ID, "h1", ContentMarkdown)
	if err != nil || got.ID != "c1" {
		t.Errorf("FindContentByHash = %v, %v", got.ID, err)
	}
	if _, err := s.FindContentByHash(ctx, u.ID, "h1", ContentForm); !errors.Is(err, ErrNotFound) {
		t.Errorf("hash lookup must respect type, got %v", err)
	}
}

func TestLatestItemForContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")
	c := AgentContent{ID: "c1", UserID: u.ID, Type: ContentForm, Body: "{}", ContentHash: "h", CreatedAt: testNow, UpdatedAt: testNow}
	if err := s.InsertContent(ctx, c); err != nil {
		t.Fatalf("InsertContent: %v", err)
	}

	seedItem(t, s, u.ID, "old", func(it *Item) { it.ContentID = "c1" })
	seedItem(t, s, u.ID, "new-done", func(it *Item) {
		it.ContentID = "c1"
		it.Status = StatusDone
		it.CreatedAt = testNow.Add(time.Minute)
	})

	got, err := s.LatestItemForContent(ctx, u.ID, "c1", false)
	if err != nil || got.ID != "new-done" {
		t.Errorf("any status: got %s, %v", got.ID, err)
	}
	if got.ContentType != ContentForm {
		t.Errorf("content type = %q, want form", got.ContentType)
	}
	got, err = s.LatestItemForContent(ctx, u.ID, "c1", true)
	if err != nil || got.ID != "old" {
		t.Errorf("active only: got %s, %v", got.ID, err)
	}
}

func TestPairingTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")

	p := PairingSession{
		ID: "p1", DisplayCode: "ABCD-EFGH", DeviceCode: "dev", Email: u.Email,
		Status: PairingPending, ExpiresAt: testNow.Add(10 * time.Minute), CreatedAt: testNow,
	}
	if err := s.InsertPairing(ctx, p); err != nil {
		t.Fatalf("InsertPairing: %v", err)
	}
	if err := s.ConsumePairing(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("consume before authorize: expected ErrNotFound, got %v", err)
	}
	if err := s.AuthorizePairing(ctx, "p1", u.ID, "k1", "secret"); err != nil {
		t.Fatalf("AuthorizePairing: %v", err)
	}
	if err := s.AuthorizePairing(ctx, "p1", u.ID, "k1", "secret"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second authorize: expected ErrNotFound, got %v", err)
	}

	got, err := s.GetPairingByDisplayCode(ctx, "ABCD-EFGH")
	if err != nil {
		t.Fatalf("GetPairingByDisplayCode: %v", err)
	}
	if got.Status != PairingAuthorized || got.Credential != "secret" {
		t.Errorf("unexpected session: %+v", got)
	}

	if err := s.ConsumePairing(ctx, "p1"); err != nil {
		t.Fatalf("ConsumePairing: %v", err)
	}
	got, err = s.GetPairingByDeviceCode(ctx, "dev")
	if err != nil {
		t.Fatalf("GetPairingByDeviceCode: %v", err)
	}
	if got.Status != PairingConsumed || got.Credential != "" {
		t.Errorf("credential must be cleared after consume: %+v", got)
	}

	n, err := s.DeleteExpiredPairings(ctx, testNow.Add(time.Hour))
	if err != nil || n != 1 {
		t.Errorf("DeleteExpiredPairings = %d, %v", n, err)
	}
}

func TestAPIKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")

	k := APIKey{ID: "k1", UserID: u.ID, KeyHash: "hash", Name: "laptop", CreatedAt: testNow}
	if err := s.InsertAPIKey(ctx, k); err != nil {
		t.Fatalf("InsertAPIKey: %v", err)
	}
	got, err := s.GetAPIKeyByHash(ctx, "hash")
	if err != nil || got.UserID != u.ID {
		t.Errorf("GetAPIKeyByHash = %+v, %v", got, err)
	}
	keys, err := s.ListAPIKeys(ctx, u.ID)
	if err != nil || len(keys) != 1 {
		t.Errorf("ListAPIKeys = %v, %v", keys, err)
	}
	if err := s.DeleteAPIKey(ctx, "someone-else", "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-owner delete: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteAPIKey(ctx, u.ID, "k1"); err != nil {
		t.Errorf("DeleteAPIKey: %v", err)
	}
}
