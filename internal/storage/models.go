package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Actor records who performed a change.
type Actor string

const (
	ActorUser Actor = "User"
	ActorAI   Actor = "AI"
)

func (a Actor) Valid() bool { return a == ActorUser || a == ActorAI }

type Tag string

const (
	TagToRead       Tag = "ToRead"
	TagToThinkAbout Tag = "ToThinkAbout"
	TagToUse        Tag = "ToUse"
	TagToDo         Tag = "ToDo"
)

func (t Tag) Valid() bool {
	switch t {
	case TagToRead, TagToThinkAbout, TagToUse, TagToDo:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyDoNow      Urgency = "DoNow"
	UrgencyDoToday    Urgency = "DoToday"
	UrgencyDoThisWeek Urgency = "DoThisWeek"
	UrgencyDoLater    Urgency = "DoLater"
	UrgencyUnclear    Urgency = "Unclear"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyDoNow, UrgencyDoToday, UrgencyDoThisWeek, UrgencyDoLater, UrgencyUnclear:
		return true
	}
	return false
}

type Importance string

const (
	ImportanceHigh   Importance = "High"
	ImportanceMedium Importance = "Medium"
	ImportanceLow    Importance = "Low"
)

func (i Importance) Valid() bool {
	return i == ImportanceHigh || i == ImportanceMedium || i == ImportanceLow
}

type Status string

const (
	StatusActive  Status = "Active"
	StatusDone    Status = "Done"
	StatusDropped Status = "Dropped"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusDone || s == StatusDropped
}

type ContentType string

const (
	ContentMarkdown ContentType = "markdown"
	ContentForm     ContentType = "form"
)

func (c ContentType) Valid() bool { return c == ContentMarkdown || c == ContentForm }

// PairingStatus is the persisted state of a pairing session. Expiry is
// derived from ExpiresAt and never stored.
type PairingStatus string

const (
	PairingPending    PairingStatus = "pending"
	PairingAuthorized PairingStatus = "authorized"
	PairingConsumed   PairingStatus = "consumed"
	PairingExpired    PairingStatus = "expired"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	KeyHash   string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Item struct {
	ID           string      `json:"id"`
	HumanID      int64       `json:"humanId"`
	UserID       string      `json:"userId"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Urgency      Urgency     `json:"urgency"`
	Tag          Tag         `json:"tag"`
	Importance   Importance  `json:"importance"`
	Deadline     *time.Time  `json:"deadline"`
	Status       Status      `json:"status"`
	CreatedBy    Actor       `json:"createdBy"`
	ModifiedBy   Actor       `json:"modifiedBy"`
	HasAIChanges bool        `json:"hasAIChanges"`
	ContentID    string      `json:"contentId,omitempty"`
	ContentType  ContentType `json:"contentType,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	OpenedAt     time.Time   `json:"openedAt"`
}

type Note struct {
	ID        string    `json:"noteId"`
	ItemID    string    `json:"itemId"`
	Author    Actor     `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type AgentContent struct {
	ID          string      `json:"id"`
	UserID      string      `json:"-"`
	Type        ContentType `json:"type"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	ExternalID  string      `json:"externalId,omitempty"`
	ContentHash string      `json:"-"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type FormResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"-"`
	ContentID string          `json:"contentId"`
	ItemID    string          `json:"itemId,omitempty"`
	Response  json.RawMessage `json:"response"`
	CreatedAt time.Time       `json:"createdAt"`
}

type PairingSession struct {
	ID          string
	DisplayCode string
	DeviceCode  string
	Email       string
	Status      PairingStatus
	UserID      string
	APIKeyID    string
	Credential  string // plaintext key, held only between confirm and the first successful poll
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// ItemFilter narrows ListItems. Nil fields do not filter.
type ItemFilter struct {
	Status         *Status
	Tag            *Tag
	Urgency        *Urgency
	Importance     *Importance
	CreatedBy      *Actor
	ModifiedBy     *Actor
	DeadlineBefore *time.Time
	DeadlineAfter  *time.Time
	Limit          int
	Offset         int
}
