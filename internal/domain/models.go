package domain

import (
	"regexp"
	"time"
)

type MatchSnapshot struct {
	Metadata MatchMetadata `json:"metadata"`
	Events   []MatchEvent  `json:"events"` // server order
}

type MatchMetadata struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	BlueTeam  string     `json:"blue_team,omitempty"` // empty when the title has no team pattern
	RedTeam   string     `json:"red_team,omitempty"`
}

var teamNamePattern = regexp.MustCompile(`.+\((?P<blue>.+)\) vs \((?P<red>.+)\)`)

// ParseTeamNames extracts team names from titles like "OWC: (Japan) vs (Korea)".
func ParseTeamNames(title string) (blue, red string, ok bool) {
	m := teamNamePattern.FindStringSubmatch(title)
	if m == nil {
		return "", "", false
	}
	return m[teamNamePattern.SubexpIndex("blue")], m[teamNamePattern.SubexpIndex("red")], true
}

func (m MatchMetadata) BlueTeamName() string {
	if m.BlueTeam == "" {
		return "Blue"
	}
	return m.BlueTeam
}

func (m MatchMetadata) RedTeamName() string {
	if m.RedTeam == "" {
		return "Red"
	}
	return m.RedTeam
}

type MatchEvent struct {
	ID        int64      `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      EventKind  `json:"kind"`
	Text      string     `json:"text,omitempty"`
	UserID    *int64     `json:"user_id,omitempty"`
	Game      *GameRound `json:"game,omitempty"`
}

// CompletionMarker is the round end time, nil for events without a finished round.
func (e MatchEvent) CompletionMarker() *time.Time {
	if e.Game == nil {
		return nil
	}
	return e.Game.EndTime
}

// UserIDs lists the author and every player in the event's round, without duplicates.
func (e MatchEvent) UserIDs() []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	add := func(id int64) {
		if _, ok := seen[id]; ok || id <= 0 {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if e.UserID != nil {
		add(*e.UserID)
	}
	if e.Game != nil {
		for _, s := range e.Game.Scores {
			add(s.UserID)
		}
	}
	return ids
}

// SameCompletion reports whether two completion markers are equal; nil only equals nil.
func SameCompletion(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type GameRound struct {
	ID      int64      `json:"id"`
	Beatmap BeatmapRef `json:"beatmap"`
	Mods    []string   `json:"mods"`
	EndTime *time.Time `json:"end_time,omitempty"` // nil while the round is in progress
	Scores  []Score    `json:"scores"`
}

func (g *GameRound) Completed() bool {
	return g != nil && g.EndTime != nil
}

type BeatmapRef struct {
	ID           int64   `json:"id"`
	BeatmapsetID int64   `json:"beatmapset_id"`
	Artist       string  `json:"artist,omitempty"`
	Title        string  `json:"title,omitempty"`
	Version      string  `json:"version,omitempty"`
	StarRating   float64 `json:"star_rating"`
}

func (b BeatmapRef) DisplayTitle() string {
	if b.Title == "" {
		return b.Version
	}
	title := b.Artist + " - " + b.Title
	if b.Artist == "" {
		title = b.Title
	}
	if b.Version != "" {
		title += " [" + b.Version + "]"
	}
	return title
}

type Score struct {
	UserID     int64         `json:"user_id"`
	Passed     bool          `json:"passed"`
	TotalScore int64         `json:"total_score"`
	Accuracy   float64       `json:"accuracy"` // 0..1
	MaxCombo   int           `json:"max_combo"`
	Rank       string        `json:"rank"`
	Mods       []string      `json:"mods"`
	Statistics HitStatistics `json:"statistics"`
	OnlineID   *int64        `json:"online_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Team       string        `json:"team"` // "red", "blue" or "none"
	Slot       int           `json:"slot"`
	Pass       bool          `json:"pass"`
}

type HitStatistics struct {
	Great int `json:"great"`
	Ok    int `json:"ok"`
	Meh   int `json:"meh"`
	Miss  int `json:"miss"`
}

type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	CountryCode string    `json:"country_code,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

type SyncStatus string

const (
	SyncSucceeded SyncStatus = "succeeded"
	SyncFailed    SyncStatus = "failed"
	SyncCancelled SyncStatus = "cancelled"
)

type SyncMode string

const (
	SyncFull        SyncMode = "full"
	SyncIncremental SyncMode = "incremental"
)

type SyncRun struct {
	ID         string     `json:"id"` // nanoid
	MatchID    int64      `json:"match_id"`
	Requested  SyncMode   `json:"requested"`
	Mode       SyncMode   `json:"mode"` // incremental requests can run as full
	Status     SyncStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	Added      int        `json:"added"`
	Removed    int        `json:"removed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}
