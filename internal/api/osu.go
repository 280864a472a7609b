package api

import (
	"context"
	"fmt"
	"time"

	"match-reftool/internal/domain"

	"github.com/valyala/fasthttp"
)

func (c *Client) GetMatch(ctx context.Context, matchID int64) (*domain.MatchSnapshot, error) {
	resp, err := Call[MatchResponse](ctx, c, fasthttp.MethodGet, fmt.Sprintf("matches/%d", matchID), nil)
	if err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

func (c *Client) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	resp, err := Call[UserResponse](ctx, c, fasthttp.MethodGet, fmt.Sprintf("users/%d", userID), nil)
	if err != nil {
		return nil, err
	}
	return &domain.User{
		ID:          resp.ID,
		Username:    resp.Username,
		CountryCode: resp.CountryCode,
		AvatarURL:   resp.AvatarURL,
		FetchedAt:   time.Now(),
	}, nil
}

type MatchResponse struct {
	Match  MatchInfo    `json:"match"`
	Events []MatchEvent `json:"events"`
}

type MatchInfo struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
}

type MatchEvent struct {
	ID     int64 `json:"id"`
	Detail struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"detail"`
	Timestamp time.Time  `json:"timestamp"`
	UserID    *int64     `json:"user_id"`
	Game      *MatchGame `json:"game"`
}

type MatchGame struct {
	ID        int64        `json:"id"`
	BeatmapID int64        `json:"beatmap_id"`
	Beatmap   *Beatmap     `json:"beatmap"`
	StartTime *time.Time   `json:"start_time"`
	EndTime   *time.Time   `json:"end_time"`
	Mods      []string     `json:"mods"`
	Scores    []MatchScore `json:"scores"`
}

type Beatmap struct {
	ID               int64   `json:"id"`
	BeatmapsetID     int64   `json:"beatmapset_id"`
	Version          string  `json:"version"`
	DifficultyRating float64 `json:"difficulty_rating"`
	Beatmapset       *struct {
		Artist string `json:"artist"`
		Title  string `json:"title"`
	} `json:"beatmapset"`
}

type MatchScore struct {
	ID         *int64    `json:"id"`
	UserID     int64     `json:"user_id"`
	Passed     bool      `json:"passed"`
	Score      int64     `json:"score"`
	Accuracy   float64   `json:"accuracy"`
	MaxCombo   int       `json:"max_combo"`
	Rank       string    `json:"rank"`
	Mods       []string  `json:"mods"`
	CreatedAt  time.Time `json:"created_at"`
	Statistics struct {
		Count300  int `json:"count_300"`
		Count100  int `json:"count_100"`
		Count50   int `json:"count_50"`
		CountMiss int `json:"count_miss"`
	} `json:"statistics"`
	Match struct {
		Slot int    `json:"slot"`
		Team string `json:"team"`
		Pass bool   `json:"pass"`
	} `json:"match"`
}

type UserResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	CountryCode string `json:"country_code"`
	AvatarURL   string `json:"avatar_url"`
}

func (r *MatchResponse) toDomain() *domain.MatchSnapshot {
	meta := domain.MatchMetadata{
		ID:        r.Match.ID,
		Name:      r.Match.Name,
		StartTime: r.Match.StartTime,
		EndTime:   r.Match.EndTime,
	}
	if blue, red, ok := domain.ParseTeamNames(r.Match.Name); ok {
		meta.BlueTeam, meta.RedTeam = blue, red
	}

	events := make([]domain.MatchEvent, 0, len(r.Events))
	for _, e := range r.Events {
		events = append(events, domain.MatchEvent{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Kind:      domain.ParseEventKind(e.Detail.Type),
			Text:      e.Detail.Text,
			UserID:    e.UserID,
			Game:      e.Game.toDomain(),
		})
	}

	return &domain.MatchSnapshot{Metadata: meta, Events: events}
}

func (g *MatchGame) toDomain() *domain.GameRound {
	if g == nil {
		return nil
	}

	round := &domain.GameRound{
		ID:      g.ID,
		Beatmap: domain.BeatmapRef{ID: g.BeatmapID},
		Mods:    nonNil(g.Mods),
		EndTime: g.EndTime,
		Scores:  make([]domain.Score, 0, len(g.Scores)),
	}
	if b := g.Beatmap; b != nil {
		round.Beatmap.ID = b.ID
		round.Beatmap.BeatmapsetID = b.BeatmapsetID
		round.Beatmap.Version = b.Version
		round.Beatmap.StarRating = b.DifficultyRating
		if b.Beatmapset != nil {
			round.Beatmap.Artist = b.Beatmapset.Artist
			round.Beatmap.Title = b.Beatmapset.Title
		}
	}

	for _, s := range g.Scores {
		round.Scores = append(round.Scores, domain.Score{
			UserID:     s.UserID,
			Passed:     s.Passed,
			TotalScore: s.Score,
			Accuracy:   s.Accuracy,
			MaxCombo:   s.MaxCombo,
			Rank:       s.Rank,
			Mods:       nonNil(s.Mods),
			Statistics: domain.HitStatistics{
				Great: s.Statistics.Count300,
				Ok:    s.Statistics.Count100,
				Meh:   s.Statistics.Count50,
				Miss:  s.Statistics.CountMiss,
			},
			OnlineID:  s.ID,
			CreatedAt: s.CreatedAt,
			Team:      s.Match.Team,
			Slot:      s.Match.Slot,
			Pass:      s.Match.Pass,
		})
	}

	return round
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
