package board

import (
	"context"

	"github.com/google/uuid"

	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/storage"
)

// MarkDone moves an item to Done. Items tagged ToThinkAbout need at least
// one note first.
func (s *Service) MarkDone(ctx context.Context, caller auth.Caller, id string, actor Optional[storage.Actor]) (storage.Item, error) {
	if err := checkActor("actor", actor); err != nil {
		return storage.Item{}, err
	}
	var item storage.Item
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		item, err = s.MarkDoneTx(ctx, q, caller.UserID, id, actor.Or(caller.DefaultActor()))
		return err
	})
	if err != nil {
		return storage.Item{}, err
	}
	s.notifier.ItemsChanged(caller.UserID)
	return item, nil
}

func (s *Service) MarkDoneTx(ctx context.Context, q *storage.Queries, userID, id string, actor storage.Actor) (storage.Item, error) {
	it, err := q.GetItem(ctx, userID, id)
	if err != nil {
		return storage.Item{}, err
	}
	if err := checkNoteGate(ctx, q, it, storage.StatusDone); err != nil {
		return storage.Item{}, err
	}

	it.Status = storage.StatusDone
	s.stamp(&it, actor)
	if err := q.UpdateItem(ctx, it); err != nil {
		return storage.Item{}, err
	}
	return it, nil
}

// Drop moves an item to Dropped. A non-empty note is appended first, and
// the item must have at least one note once that is done.
func (s *Service) Drop(ctx context.Context, caller auth.Caller, id string, actor Optional[storage.Actor], note string) (storage.Item, error) {
	if err := checkActor("actor", actor); err != nil {
		return storage.Item{}, err
	}
	if note != "" {
		if err := checkNote(note); err != nil {
			return storage.Item{}, err
		}
	}
	by := actor.Or(caller.DefaultActor())

	var item storage.Item
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		it, err := q.GetItem(ctx, caller.UserID, id)
		if err != nil {
			return err
		}
		if note != "" {
			now := s.clock.Now()
			n := storage.Note{ID: uuid.New().String(), ItemID: it.ID, Author: by, Content: note, CreatedAt: now, UpdatedAt: now}
			if err := q.InsertNote(ctx, n); err != nil {
				return err
			}
		}
		count, err := q.CountNotes(ctx, it.ID)
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrDropNoteRequired
		}

		it.Status = storage.StatusDropped
		s.stamp(&it, by)
		if err := q.UpdateItem(ctx, it); err != nil {
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return storage.Item{}, err
	}
	s.notifier.ItemsChanged(caller.UserID)
	return item, nil
}

// checkNoteGate enforces the note requirements for moving it into status:
// Done needs a note when the item is tagged ToThinkAbout, Dropped always
// needs one. Other statuses have no gate.
func checkNoteGate(ctx context.Context, q *storage.Queries, it storage.Item, status storage.Status) error {
	var gateErr error
	switch {
	case status == storage.StatusDone && it.Tag == storage.TagToThinkAbout:
		gateErr = ErrDoneNoteRequired
	case status == storage.StatusDropped:
		gateErr = ErrDropNoteRequired
	default:
		return nil
	}
	n, err := q.CountNotes(ctx, it.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return gateErr
	}
	return nil
}
