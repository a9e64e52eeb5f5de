// Package journal keeps a bounded, persistent history of drive events for operators.
package journal

import (
	"context"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/CodedInternet/dddrive/onboard"
)

const JOURNAL_MAX_ENTRIES = 10000

type Entry struct {
	ID      int    `storm:"increment"` // pk, also the insertion order
	Ref     string `storm:"unique"`
	Kind    string `storm:"index"`
	At      time.Time
	Seq     uint64
	Left    int
	Right   int
	Channel string
	From    string
	To      string
	Detail  string
}

type Journal struct {
	db  *storm.DB
	Max int
}

func New(db *storm.DB) (*Journal, error) {
	if err := db.Init(&Entry{}); err != nil {
		return nil, err
	}

	return &Journal{db: db, Max: JOURNAL_MAX_ENTRIES}, nil
}

func entryFromEvent(e onboard.Event) *Entry {
	return &Entry{
		Ref:     uuid.New().String(),
		Kind:    string(e.Kind),
		At:      e.At.UTC(),
		Seq:     e.Seq,
		Left:    e.Left,
		Right:   e.Right,
		Channel: e.Channel,
		From:    e.From,
		To:      e.To,
		Detail:  e.Detail,
	}
}

// Record stores an event, dropping the oldest entries beyond Max.
func (j *Journal) Record(e onboard.Event) (*Entry, error) {
	entry := entryFromEvent(e)
	if err := j.db.Save(entry); err != nil {
		return nil, err
	}

	return entry, j.prune()
}

func (j *Journal) prune() error {
	if j.Max <= 0 {
		return nil
	}

	count, err := j.db.Count(&Entry{})
	if err != nil || count <= j.Max {
		return err
	}

	var old []Entry
	if err := j.db.All(&old, storm.Limit(count-j.Max)); err != nil {
		return err
	}
	for i := range old {
		if err := j.db.DeleteStruct(&old[i]); err != nil {
			return err
		}
	}

	return nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) (entries []Entry, err error) {
	err = j.db.All(&entries, storm.Limit(n), storm.Reverse())
	if entries == nil {
		entries = []Entry{}
	}
	return
}

// ByKind returns up to n entries of one kind, newest first.
func (j *Journal) ByKind(kind onboard.EventKind, n int) (entries []Entry, err error) {
	err = j.db.Find("Kind", string(kind), &entries, storm.Limit(n), storm.Reverse())
	if err == storm.ErrNotFound {
		return []Entry{}, nil
	}
	return
}

func (j *Journal) Get(ref string) (entry Entry, err error) {
	err = j.db.One("Ref", ref, &entry)
	return
}

// Drain records events until ctx is done or the channel is closed. Storage errors
// are logged and never stop the drain.
func (j *Journal) Drain(ctx context.Context, events <-chan onboard.Event) {
	for {
		select {
		case <-ctx.Done():
			return

		case e, ok := <-events:
			if !ok {
				return
			}
			if _, err := j.Record(e); err != nil {
				log.Error().Err(err).Str("kind", string(e.Kind)).Msg("unable to journal event")
			}
		}
	}
}
