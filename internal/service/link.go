package service

import (
	"strconv"
	"strings"

	"match-reftool/internal/apperror"
	"match-reftool/internal/domain"
)

// ParseMatchLink accepts a match URL such as
// https://osu.ppy.sh/community/matches/123727 or a bare id.
func ParseMatchLink(link string) (int64, error) {
	link = strings.TrimRight(strings.TrimSpace(link), "/")
	if link == "" {
		return 0, apperror.ValidationFailed("link", "match link is empty")
	}

	segment := link[strings.LastIndexByte(link, '/')+1:]
	if i := strings.IndexAny(segment, "?#"); i >= 0 {
		segment = segment[:i]
	}

	id, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("link", "match link does not end in a match id")
	}
	return id, nil
}

// ParseSyncMode maps the request mode to what is asked of the engine. "auto"
// and "" refresh incrementally, which still rebuilds an untracked match.
func ParseSyncMode(mode string) (domain.SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto", string(domain.SyncIncremental):
		return domain.SyncIncremental, nil
	case string(domain.SyncFull):
		return domain.SyncFull, nil
	default:
		return "", apperror.ValidationFailed("mode", "mode must be auto or full")
	}
}
