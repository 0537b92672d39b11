package board

import (
	"context"

	"github.com/google/uuid"

	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/storage"
)

// AddNote appends a note and records author as the item's last modifier.
func (s *Service) AddNote(ctx context.Context, caller auth.Caller, itemID string, author Optional[storage.Actor], content string) (storage.Note, error) {
	if err := checkActor("author", author); err != nil {
		return storage.Note{}, err
	}
	if err := checkNote(content); err != nil {
		return storage.Note{}, err
	}
	by := author.Or(caller.DefaultActor())

	var note storage.Note
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		it, err := q.GetItem(ctx, caller.UserID, itemID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		note = storage.Note{ID: uuid.New().String(), ItemID: it.ID, Author: by, Content: content, CreatedAt: now, UpdatedAt: now}
		if err := q.InsertNote(ctx, note); err != nil {
			return err
		}
		return q.TouchItem(ctx, caller.UserID, it.ID, by, by == storage.ActorAI, now)
	})
	if err != nil {
		return storage.Note{}, err
	}
	s.notifier.ItemsChanged(caller.UserID)
	return note, nil
}

// EditNote rewrites a note's content. The guard is on the editing actor:
// an AI actor can never edit a note, whoever wrote it.
func (s *Service) EditNote(ctx context.Context, caller auth.Caller, noteID string, actor Optional[storage.Actor], content string) (storage.Note, error) {
	if err := checkActor("actor", actor); err != nil {
		return storage.Note{}, err
	}
	if err := checkNote(content); err != nil {
		return storage.Note{}, err
	}
	by := actor.Or(caller.DefaultActor())

	var note storage.Note
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		n, err := q.GetNote(ctx, caller.UserID, noteID)
		if err != nil {
			return err
		}
		if by == storage.ActorAI {
			return ErrAIEditForbidden
		}
		now := s.clock.Now()
		if err := q.UpdateNoteContent(ctx, n.ID, content, now); err != nil {
			return err
		}
		if err := q.TouchItem(ctx, caller.UserID, n.ItemID, by, false, now); err != nil {
			return err
		}
		n.Content = content
		n.UpdatedAt = now
		note = n
		return nil
	})
	if err != nil {
		return storage.Note{}, err
	}
	s.notifier.ItemsChanged(caller.UserID)
	return note, nil
}

// ListNotes returns an owned item's notes, newest first.
func (s *Service) ListNotes(ctx context.Context, caller auth.Caller, itemID string) ([]storage.Note, error) {
	if _, err := s.store.GetItem(ctx, caller.UserID, itemID); err != nil {
		return nil, err
	}
	return s.store.ListNotes(ctx, itemID)
}
