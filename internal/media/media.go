// Package media holds the normalized notification record and the pure
// helpers (episode codes, sizes, quality labels) shared by extraction,
// aggregation, and rendering.
package media

// Kind classifies a library item.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindEpisode Kind = "episode"
)

// CatalogType maps the item kind onto TMDB's tv/movie path segment.
func (k Kind) CatalogType() string {
	if k == KindEpisode {
		return "tv"
	}
	return "movie"
}

// NotificationAttributes is the normalized, immutable record produced per
// library event. Zero values mean "absent", mirroring the optionality of
// the upstream payload.
type NotificationAttributes struct {
	Kind Kind

	Title     string
	TitleYear string

	// Grouping identifiers, set only for episodes. Both must be present
	// for the notification to participate in aggregation.
	SeriesID string
	SeasonID string

	EpisodeCode string // canonical S{season:02d}E{episode:02d}
	SeasonName  string

	Rating   float64
	Category string

	Quality     string // free-text markers scanned from the file name
	VideoWidth  int
	VideoHeight int

	SizeBytes int64
	SizeText  string

	Summary       string
	SummarySource string // "emby" or "tmdb"

	TMDBID   string
	IMDBID   string
	DoubanID string
	ItemID   string

	PosterURL string
}

// HasAggregationKey reports whether both grouping identifiers are present.
func (a NotificationAttributes) HasAggregationKey() bool {
	return a.SeriesID != "" && a.SeasonID != ""
}
