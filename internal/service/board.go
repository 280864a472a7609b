package service

import (
	"time"

	"match-reftool/internal/domain"
)

// Board is the locally held state of one match. Only the engine loop touches it.
type Board struct {
	matchID  int64
	metadata *domain.MatchMetadata
	events   []domain.MatchEvent
}

func (b *Board) Reset(matchID int64) {
	b.matchID = matchID
	b.metadata = nil
	b.events = nil
}

func (b *Board) MatchID() int64 { return b.matchID }

func (b *Board) Len() int { return len(b.events) }

func (b *Board) SetMetadata(meta domain.MatchMetadata) {
	b.metadata = &meta
}

func (b *Board) Append(ev domain.MatchEvent) {
	b.events = append(b.events, ev)
}

// InsertAfter places ev right behind the event with id after. after == 0 means
// the head of the board; an id that is not held appends.
func (b *Board) InsertAfter(ev domain.MatchEvent, after int64) {
	pos := len(b.events)
	if after == 0 {
		pos = 0
	} else if i := b.index(after); i >= 0 {
		pos = i + 1
	}

	b.events = append(b.events, domain.MatchEvent{})
	copy(b.events[pos+1:], b.events[pos:])
	b.events[pos] = ev
}

func (b *Board) Remove(eventID int64) bool {
	i := b.index(eventID)
	if i < 0 {
		return false
	}
	b.events = append(b.events[:i], b.events[i+1:]...)
	return true
}

func (b *Board) Markers() map[int64]*time.Time {
	markers := make(map[int64]*time.Time, len(b.events))
	for _, ev := range b.events {
		markers[ev.ID] = ev.CompletionMarker()
	}
	return markers
}

func (b *Board) View() BoardView {
	view := BoardView{
		MatchID: b.matchID,
		Events:  make([]domain.MatchEvent, len(b.events)),
	}
	copy(view.Events, b.events)
	if b.metadata != nil {
		meta := *b.metadata
		view.Metadata = &meta
	}
	return view
}

func (b *Board) index(eventID int64) int {
	for i := range b.events {
		if b.events[i].ID == eventID {
			return i
		}
	}
	return -1
}

type BoardView struct {
	MatchID  int64                 `json:"match_id"`
	Tracked  int64                 `json:"tracked"`
	Busy     bool                  `json:"busy"`
	Metadata *domain.MatchMetadata `json:"metadata,omitempty"`
	Events   []domain.MatchEvent   `json:"events"`
}

func (v BoardView) EventIDs() []int64 {
	ids := make([]int64, len(v.Events))
	for i, ev := range v.Events {
		ids[i] = ev.ID
	}
	return ids
}
