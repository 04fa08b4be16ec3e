// Package emby normalizes inbound Emby webhook payloads into the flat
// notification record the aggregation engine consumes.
package emby

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"embygram/internal/media"
	"embygram/pkg/logx"
)

// EventLibraryNew is the only webhook event the relay forwards; everything
// else is dropped at the router.
const EventLibraryNew = "library.new"

// episodeOnlyNameRe matches item names that are just an episode label
// ("第3集", "Episode 4", a bare number). Such a name signals a missing
// SeriesName, and appending a production year to it would read oddly.
var episodeOnlyNameRe = regexp.MustCompile(`^(?i)(第\s*\d+\s*集|Episode\s+\d+|\d+)$`)

// GetEventType pulls the event marker from an object-shaped payload,
// checking the top level first and then the first tv/mv entry.
func GetEventType(body []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed[0] == '[' {
		return "", false
	}
	var p payload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return "", false
	}
	switch {
	case p.Event != "":
		return p.Event, true
	case len(p.TV) > 0 && p.TV[0].Event != "":
		return p.TV[0].Event, true
	case len(p.MV) > 0 && p.MV[0].Event != "":
		return p.MV[0].Event, true
	}
	return "", false
}

// Extractor turns webhook payloads into media.NotificationAttributes.
type Extractor struct {
	log logx.Logger
}

func NewExtractor(log logx.Logger) *Extractor {
	return &Extractor{log: log.With(logx.String("comp", "emby"))}
}

// Extract normalizes the first envelope of the payload. It reports false
// when the payload carries no recognizable item.
func (e *Extractor) Extract(body []byte) (media.NotificationAttributes, bool) {
	envs := decodeEnvelopes(body)
	if len(envs) == 0 {
		return media.NotificationAttributes{}, false
	}
	env := envs[0]
	it := env.Item
	if it.Type == "" && it.Name == "" && it.SeriesName == "" {
		return media.NotificationAttributes{}, false
	}

	attrs := media.NotificationAttributes{Kind: media.KindMovie}
	if it.Type == "Episode" {
		attrs.Kind = media.KindEpisode
	}

	title := it.Name
	if attrs.Kind == media.KindEpisode {
		if it.SeriesName != "" {
			title = it.SeriesName
		} else if it.Name != "" {
			e.log.Warn("episode item has no SeriesName, falling back to item name",
				logx.String("name", it.Name))
		}
	}
	attrs.Title = title
	attrs.TitleYear = titleWithYear(title, it.ProductionYear)

	if attrs.Kind == media.KindEpisode {
		if it.ParentIndexNumber != nil && it.IndexNumber != nil {
			attrs.EpisodeCode = media.FormatEpisodeCode(*it.ParentIndexNumber, *it.IndexNumber)
		}
		attrs.SeasonName = it.SeasonName
		attrs.SeriesID = it.SeriesID
		attrs.SeasonID = it.SeasonID
	}

	if id := it.ProviderIds["Tmdb"]; id != "" {
		attrs.TMDBID = id
	} else if id := it.ProviderIds["MovieDb"]; id != "" {
		attrs.TMDBID = id
	}
	attrs.IMDBID = it.ProviderIds["Imdb"]

	switch {
	case it.CommunityRating > 0:
		attrs.Rating = it.CommunityRating
	case it.CriticRating > 0:
		attrs.Rating = it.CriticRating / 10
	}

	if len(it.Genres) > 0 {
		attrs.Category = strings.Join(it.Genres, " / ")
	}

	attrs.Quality = media.QualityFromPath(it.FileName)
	if attrs.Quality == "" {
		attrs.Quality = media.QualityFromPath(it.Path)
	}
	attrs.VideoWidth = it.Width
	attrs.VideoHeight = it.Height
	if it.Size > 0 {
		attrs.SizeBytes = it.Size
		attrs.SizeText = media.FormatSize(it.Size)
	}

	attrs.Summary = it.Overview
	attrs.SummarySource = "emby"
	if attrs.Summary == "" {
		attrs.Summary = env.Description
	}
	attrs.ItemID = it.ID

	return attrs, true
}

// titleWithYear appends " (YYYY)" unless the year is unknown, already part
// of the name (half- or full-width parentheses), or the name is only an
// episode label.
func titleWithYear(name string, year int) string {
	if name == "" || year == 0 {
		return name
	}
	if episodeOnlyNameRe.MatchString(strings.TrimSpace(name)) {
		return name
	}
	if strings.Contains(name, fmt.Sprintf("(%d)", year)) ||
		strings.Contains(name, fmt.Sprintf("（%d）", year)) {
		return name
	}
	return fmt.Sprintf("%s (%d)", name, year)
}
