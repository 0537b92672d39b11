package board

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/storage"
)

const (
	maxTitleLen       = 500
	maxDescriptionLen = 10000
	maxNoteLen        = 50000

	defaultPageSize = 50
	maxPageSize     = 500
)

// Notifier is told after a user's board changed and the change committed.
type Notifier interface {
	ItemsChanged(userID string)
}

type nopNotifier struct{}

func (nopNotifier) ItemsChanged(string) {}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service owns items and notes: their state machine, provenance and the
// per-user humanId sequence.
type Service struct {
	store    *storage.Store
	notifier Notifier
	clock    Clock
}

func NewService(store *storage.Store, notifier Notifier) *Service {
	return NewServiceWithClock(store, notifier, realClock{})
}

// NewServiceWithClock creates a Service with a custom clock (for testing).
func NewServiceWithClock(store *storage.Store, notifier Notifier, clock Clock) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{store: store, notifier: notifier, clock: clock}
}

// Now is the service clock. Callers composing their own transactions use
// it so timestamps line up.
func (s *Service) Now() time.Time { return s.clock.Now() }

// NewItem is the input to CreateItem. Zero values take the board defaults.
type NewItem struct {
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Tag         storage.Tag             `json:"tag"`
	Urgency     storage.Urgency         `json:"urgency"`
	Importance  storage.Importance      `json:"importance"`
	Deadline    *time.Time              `json:"deadline"`
	Status      storage.Status          `json:"status"`
	CreatedBy   Optional[storage.Actor] `json:"createdBy"`
	ContentID   string                  `json:"-"`
}

func (in *NewItem) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if err := checkTitle(in.Title); err != nil {
		return err
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		return invalid("description", "must be at most %d characters", maxDescriptionLen)
	}
	if in.Tag == "" {
		in.Tag = storage.TagToDo
	}
	if in.Urgency == "" {
		in.Urgency = storage.UrgencyUnclear
	}
	if in.Importance == "" {
		in.Importance = storage.ImportanceMedium
	}
	if in.Status == "" {
		in.Status = storage.StatusActive
	}
	if !in.Tag.Valid() {
		return invalid("tag", "unknown tag %q", in.Tag)
	}
	if !in.Urgency.Valid() {
		return invalid("urgency", "unknown urgency %q", in.Urgency)
	}
	if !in.Importance.Valid() {
		return invalid("importance", "unknown importance %q", in.Importance)
	}
	if !in.Status.Valid() {
		return invalid("status", "unknown status %q", in.Status)
	}
	return checkActor("createdBy", in.CreatedBy)
}

func checkTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n == 0 {
		return invalid("title", "must not be empty")
	}
	if n > maxTitleLen {
		return invalid("title", "must be at most %d characters", maxTitleLen)
	}
	return nil
}

func checkNote(content string) error {
	n := utf8.RuneCountInString(content)
	if strings.TrimSpace(content) == "" {
		return invalid("content", "must not be empty")
	}
	if n > maxNoteLen {
		return invalid("content", "must be at most %d characters", maxNoteLen)
	}
	return nil
}

func checkActor(field string, a Optional[storage.Actor]) error {
	if a.Set && !a.Value.Valid() {
		return invalid(field, "must be User or AI")
	}
	return nil
}

// CreateItem adds an item to the caller's board.
func (s *Service) CreateItem(ctx context.Context, caller auth.Caller, in NewItem) (storage.Item, error) {
	var item storage.Item
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		item, err = s.CreateItemTx(ctx, q, caller, in)
		return err
	})
	if err != nil {
		return storage.Item{}, err
	}
	s.notifier.ItemsChanged(caller.UserID)
	return item, nil
}

// CreateItemTx allocates the next humanId and inserts the item inside q's
// transaction. It does not notify.
func (s *Service) CreateItemTx(ctx context.Context, q *storage.Queries, caller auth.Caller, in NewItem) (storage.Item, error) {
	if err := in.normalize(); err != nil {
		return storage.Item{}, err
	}
	humanID, err := q.NextHumanID(ctx, caller.UserID)
	if err != nil {
		return storage.Item{}, err
	}

	actor := in.CreatedBy.Or(caller.DefaultActor())
	now := s.clock.Now()
	item := storage.Item{
		ID:           uuid.New().String(),
		HumanID:      humanID,
		UserID:       caller.UserID,
		Title:        in.Title,
		Description:  in.Description,
		Urgency:      in.Urgency,
		Tag:          in.Tag,
		Importance:   in.Importance,
		Deadline:     in.Deadline,
		Status:       in.Status,
		CreatedBy:    actor,
		ModifiedBy:   actor,
		HasAIChanges: actor == storage.ActorAI,
		ContentID:    in.ContentID,
		CreatedAt:    now,
		UpdatedAt:    now,
		OpenedAt:     now,
	}
	if err := q.InsertItem(ctx, item); err != nil {
		return storage.Item{}, err
	}
	return q.GetItem(ctx, caller.UserID, item.ID)
}

func (s *Service) GetItem(ctx context.Context, caller auth.Caller, id string) (storage.Item, error) {
	return s.store.GetItem(ctx, caller.UserID, id)
}

// ListQuery filters and pages ListItems. Empty strings do not filter,
// except Status which defaults to Active; "All" lists every status.
type ListQuery struct {
	Status         string
	Tag            string
	Urgency        string
	Importance     string
	CreatedBy      string
	ModifiedBy     string
	DeadlineBefore *time.Time
	DeadlineAfter  *time.Time
	Page           int
	PageSize       int
}

type Page struct {
	Items    []storage.Item `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

func (lq ListQuery) filter() (storage.ItemFilter, error) {
	var f storage.ItemFilter

	switch lq.Status {
	case "All":
	case "":
		st := storage.StatusActive
		f.Status = &st
	default:
		st := storage.Status(lq.Status)
		if !st.Valid() {
			return f, invalid("status", "unknown status %q", lq.Status)
		}
		f.Status = &st
	}
	if lq.Tag != "" {
		t := storage.Tag(lq.Tag)
		if !t.Valid() {
			return f, invalid("tag", "unknown tag %q", lq.Tag)
		}
		f.Tag = &t
	}
	if lq.Urgency != "" {
		u := storage.Urgency(lq.Urgency)
		if !u.Valid() {
			return f, invalid("urgency", "unknown urgency %q", lq.Urgency)
		}
		f.Urgency = &u
	}
	if lq.Importance != "" {
		i := storage.Importance(lq.Importance)
		if !i.Valid() {
			return f, invalid("importance", "unknown importance %q", lq.Importance)
		}
		f.Importance = &i
	}
	if lq.CreatedBy != "" {
		a := storage.Actor(lq.CreatedBy)
		if !a.Valid() {
			return f, invalid("createdBy", "must be User or AI")
		}
		f.CreatedBy = &a
	}
	if lq.ModifiedBy != "" {
		a := storage.Actor(lq.ModifiedBy)
		if !a.Valid() {
			return f, invalid("modifiedBy", "must be User or AI")
		}
		f.ModifiedBy = &a
	}
	f.DeadlineBefore = lq.DeadlineBefore
	f.DeadlineAfter = lq.DeadlineAfter
	return f, nil
}

// ListItems returns one page of the caller's items with the total match
// count computed before paging.
func (s *Service) ListItems(ctx context.Context, caller auth.Caller, lq ListQuery) (Page, error) {
	f, err := lq.filter()
	if err != nil {
		return Page{}, err
	}
	page, size := lq.Page, lq.PageSize
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = defaultPageSize
	}
	if page < 1 {
		return Page{}, invalid("page", "must be at least 1")
	}
	if size < 1 || size > maxPageSize {
		return Page{}, invalid("pageSize", "must be between 1 and %d", maxPageSize)
	}
	f.Limit = size
	f.Offset = (page - 1) * size

	items, total, err := s.store.ListItems(ctx, caller.UserID, f)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total, Page: page, PageSize: size}, nil
}

// Patch is a partial item update. Only fields with Set are applied.
type Patch struct {
	Title        Optional[string]             `json:"title"`
	Description  Optional[string]             `json:"description"`
	Tag          Optional[storage.Tag]        `json:"tag"`
	Urgency      Optional[storage.Urgency]    `json:"urgency"`
	Importance   Optional[storage.Importance] `json:"importance"`
	Deadline     Optional[*time.Time]         `json:"deadline"`
	Status       Optional[storage.Status]     `json:"status"`
	OpenedAt     Optional[time.Time]          `json:"openedAt"`
	HasAIChanges Optional[bool]               `json:"hasAIChanges"`
	ModifiedBy   Optional[storage.Actor]      `json:"modifiedBy"`
}

// empty reports whether no item field was supplied. modifiedBy on its own
// names an actor but changes nothing.
func (p Patch) empty() bool {
	return !p.Title.Set && !p.Description.Set && !p.Tag.Set && !p.Urgency.Set &&
		!p.Importance.Set && !p.Deadline.Set && !p.Status.Set && !p.OpenedAt.Set && !p.HasAIChanges.Set
}

func (p *Patch) validate() error {
	if p.Title.Set {
		p.Title.Value = strings.TrimSpace(p.Title.Value)
		if err := checkTitle(p.Title.Value); err != nil {
			return err
		}
	}
	if p.Description.Set && utf8.RuneCountInString(p.Description.Value) > maxDescriptionLen {
		return invalid("description", "must be at most %d characters", maxDescriptionLen)
	}
	if p.Tag.Set && !p.Tag.Value.Valid() {
		return invalid("tag", "unknown tag %q", p.Tag.Value)
	}
	if p.Urgency.Set && !p.Urgency.Value.Valid() {
		return invalid("urgency", "unknown urgency %q", p.Urgency.Value)
	}
	if p.Importance.Set && !p.Importance.Value.Valid() {
		return invalid("importance", "unknown importance %q", p.Importance.Value)
	}
	if p.Status.Set && !p.Status.Value.Valid() {
		return invalid("status", "unknown status %q", p.Status.Value)
	}
	return checkActor("modifiedBy", p.ModifiedBy)
}

// PatchItem applies a partial update. An AI actor always raises
// hasAIChanges; otherwise an explicit hasAIChanges in the patch is
// written as given. Moving to Done or Dropped is held to the same note
// requirements as MarkDone and Drop.
func (s *Service) PatchItem(ctx context.Context, caller auth.Caller, id string, p Patch) (storage.Item, error) {
	var item storage.Item
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		item, err = s.PatchItemTx(ctx, q, caller, id, p)
		return err
	})
	if err != nil {
		return storage.Item{}, err
	}
	s.notifier.ItemsChanged(caller.UserID)
	return item, nil
}

func (s *Service) PatchItemTx(ctx context.Context, q *storage.Queries, caller auth.Caller, id string, p Patch) (storage.Item, error) {
	if p.empty() {
		return storage.Item{}, ErrNoFieldsProvided
	}
	if err := p.validate(); err != nil {
		return storage.Item{}, err
	}
	it, err := q.GetItem(ctx, caller.UserID, id)
	if err != nil {
		return storage.Item{}, err
	}

	if p.Title.Set {
		it.Title = p.Title.Value
	}
	if p.Description.Set {
		it.Description = p.Description.Value
	}
	if p.Tag.Set {
		it.Tag = p.Tag.Value
	}
	if p.Urgency.Set {
		it.Urgency = p.Urgency.Value
	}
	if p.Importance.Set {
		it.Importance = p.Importance.Value
	}
	if p.Deadline.Set {
		it.Deadline = p.Deadline.Value
	}
	if p.Status.Set && p.Status.Value != it.Status {
		if err := checkNoteGate(ctx, q, it, p.Status.Value); err != nil {
			return storage.Item{}, err
		}
		it.Status = p.Status.Value
	}
	if p.OpenedAt.Set {
		it.OpenedAt = p.OpenedAt.Value
	}

	actor := p.ModifiedBy.Or(caller.DefaultActor())
	if actor != storage.ActorAI && p.HasAIChanges.Set {
		it.HasAIChanges = p.HasAIChanges.Value
	}
	s.stamp(&it, actor)

	if err := q.UpdateItem(ctx, it); err != nil {
		return storage.Item{}, err
	}
	return it, nil
}

// stamp records actor as the last modifier.
func (s *Service) stamp(it *storage.Item, actor storage.Actor) {
	it.ModifiedBy = actor
	if actor == storage.ActorAI {
		it.HasAIChanges = true
	}
	it.UpdatedAt = s.clock.Now()
}

// MarkAIChangedTx flags an item as touched by an agent, as an AI patch
// with no field changes would.
func (s *Service) MarkAIChangedTx(ctx context.Context, q *storage.Queries, userID, id string) error {
	return q.TouchItem(ctx, userID, id, storage.ActorAI, true, s.clock.Now())
}
