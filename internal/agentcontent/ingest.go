package agentcontent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/board"
	"github.com/kalambet/clawkpit/internal/storage"
)

// ErrNotAForm is returned when a response is submitted against markdown content.
var ErrNotAForm = errors.New("content is not a form")

// Ingestor turns agent pushes into content rows and board items. Retried
// pushes with the same dedup key land on the same content and item.
type Ingestor struct {
	store    *storage.Store
	board    *board.Service
	notifier board.Notifier
}

func NewIngestor(store *storage.Store, b *board.Service, notifier board.Notifier) *Ingestor {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Ingestor{store: store, board: b, notifier: notifier}
}

type nopNotifier struct{}

func (nopNotifier) ItemsChanged(string) {}

// Push is what an agent sends.
type Push struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	ExternalID string `json:"externalId"`
}

type Result struct {
	ContentID string `json:"contentId"`
	ItemID    string `json:"itemId"`
}

// PushMarkdown files reading material under ToRead.
func (g *Ingestor) PushMarkdown(ctx context.Context, caller auth.Caller, p Push) (Result, error) {
	return g.Upsert(ctx, caller, storage.ContentMarkdown, storage.TagToRead, p)
}

// PushForm files a form to fill under ToDo.
func (g *Ingestor) PushForm(ctx context.Context, caller auth.Caller, p Push) (Result, error) {
	return g.Upsert(ctx, caller, storage.ContentForm, storage.TagToDo, p)
}

// Upsert stores content and links it to an item. Identity is the external
// id when given, otherwise the body hash and type. Known content is
// rewritten in place and its item reused: for forms only an Active item,
// for markdown the newest item whatever its status. The lookup and the
// writes share one transaction.
func (g *Ingestor) Upsert(ctx context.Context, caller auth.Caller, typ storage.ContentType, tag storage.Tag, p Push) (Result, error) {
	if strings.TrimSpace(p.Body) == "" {
		return Result{}, &board.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if !typ.Valid() {
		return Result{}, &board.ValidationError{Field: "type", Reason: "must be markdown or form"}
	}
	externalID := strings.TrimSpace(p.ExternalID)
	title := clampTitle(strings.TrimSpace(p.Title))
	if title == "" {
		title = DeriveTitle(p.Body)
	}
	hash := ContentHash(p.Body)

	var res Result
	err := g.store.WithTx(ctx, func(q *storage.Queries) error {
		var existing storage.AgentContent
		var err error
		if externalID != "" {
			existing, err = q.FindContentByExternalID(ctx, caller.UserID, externalID)
		} else {
			existing, err = q.FindContentByHash(ctx, caller.UserID, hash, typ)
		}

		switch {
		case err == nil:
			now := g.board.Now()
			if err := q.UpdateContentBody(ctx, existing.ID, title, p.Body, hash, now); err != nil {
				return err
			}
			res.ContentID = existing.ID
			item, err := q.LatestItemForContent(ctx, caller.UserID, existing.ID, existing.Type == storage.ContentForm)
			if err == nil {
				res.ItemID = item.ID
				return g.board.MarkAIChangedTx(ctx, q, caller.UserID, item.ID)
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		case errors.Is(err, storage.ErrNotFound):
			now := g.board.Now()
			c := storage.AgentContent{
				ID:          uuid.New().String(),
				UserID:      caller.UserID,
				Type:        typ,
				Title:       title,
				Body:        p.Body,
				ExternalID:  externalID,
				ContentHash: hash,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := q.InsertContent(ctx, c); err != nil {
				return err
			}
			res.ContentID = c.ID
		default:
			return err
		}

		item, err := g.board.CreateItemTx(ctx, q, caller, board.NewItem{
			Title:      title,
			Tag:        tag,
			Urgency:    storage.UrgencyUnclear,
			Importance: storage.ImportanceMedium,
			CreatedBy:  board.Some(storage.ActorAI),
			ContentID:  res.ContentID,
		})
		if err != nil {
			return err
		}
		res.ItemID = item.ID
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	g.notifier.ItemsChanged(caller.UserID)
	return res, nil
}

// Content returns an owned content row.
func (g *Ingestor) Content(ctx context.Context, caller auth.Caller, id string) (storage.AgentContent, error) {
	return g.store.GetContent(ctx, caller.UserID, id)
}

// SubmitFormResponse records a response to a form. When itemID names an
// owned item, that item is marked done by the user in the same
// transaction; if that fails nothing is recorded.
func (g *Ingestor) SubmitFormResponse(ctx context.Context, caller auth.Caller, contentID, itemID string, response json.RawMessage) (string, error) {
	if len(response) == 0 || !json.Valid(response) {
		return "", &board.ValidationError{Field: "response", Reason: "must be valid JSON"}
	}

	responseID := uuid.New().String()
	err := g.store.WithTx(ctx, func(q *storage.Queries) error {
		c, err := q.GetContent(ctx, caller.UserID, contentID)
		if err != nil {
			return err
		}
		if c.Type != storage.ContentForm {
			return ErrNotAForm
		}

		linked := ""
		if itemID != "" {
			if _, err := q.GetItem(ctx, caller.UserID, itemID); err == nil {
				linked = itemID
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}

		r := storage.FormResponse{
			ID:        responseID,
			UserID:    caller.UserID,
			ContentID: c.ID,
			ItemID:    linked,
			Response:  response,
			CreatedAt: g.board.Now(),
		}
		if err := q.InsertFormResponse(ctx, r); err != nil {
			return err
		}
		if linked != "" {
			if _, err := g.board.MarkDoneTx(ctx, q, caller.UserID, linked, storage.ActorUser); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	g.notifier.ItemsChanged(caller.UserID)
	return responseID, nil
}

// FormResponses lists responses to an owned form, newest first.
func (g *Ingestor) FormResponses(ctx context.Context, caller auth.Caller, contentID string) ([]storage.FormResponse, error) {
	c, err := g.store.GetContent(ctx, caller.UserID, contentID)
	if err != nil {
		return nil, err
	}
	if c.Type != storage.ContentForm {
		return nil, ErrNotAForm
	}
	return g.store.ListFormResponses(ctx, caller.UserID, contentID)
}
