// Package render assembles the Telegram message text for single
// notifications and aggregated batches. Both paths share one body line
// set so a batch of one reads exactly like a direct send.
package render

import (
	"fmt"
	"net/url"
	"strings"

	"embygram/internal/media"
)

const summaryRuneLimit = 160

// Renderer turns normalized notification attributes into (title, body)
// pairs ready for delivery.
type Renderer struct{}

func New() *Renderer {
	return &Renderer{}
}

// RenderSingle renders one notification. Episode titles prefer the
// episode code, then the season name.
func (r *Renderer) RenderSingle(attrs media.NotificationAttributes) (string, string) {
	var b strings.Builder
	b.WriteString("🎬 ")
	b.WriteString(attrs.TitleYear)
	switch {
	case attrs.EpisodeCode != "":
		b.WriteString(" ")
		b.WriteString(attrs.EpisodeCode)
	case attrs.SeasonName != "":
		b.WriteString(" ")
		b.WriteString(attrs.SeasonName)
	}
	b.WriteString(" 已入库")

	return b.String(), r.body(attrs, 1, "大小", attrs.SizeText)
}

// RenderBatch renders an aggregated batch. Base attributes come from the
// batch's first notification; episodeRanges, count, and totalSizeText are
// computed by the aggregation engine.
func (r *Renderer) RenderBatch(base media.NotificationAttributes, episodeRanges string, count int, totalSizeText string) (string, string) {
	title := fmt.Sprintf("🎬 %s %s 已入库（共 %d 集）", base.TitleYear, episodeRanges, count)
	return title, r.body(base, count, "总大小", totalSizeText)
}

// body builds the ordered optional line set shared by both render paths.
func (r *Renderer) body(attrs media.NotificationAttributes, fileCount int, sizeLabel, sizeText string) string {
	lines := []string{"📢 媒体库：Emby"}

	if attrs.Rating > 0 {
		lines = append(lines, fmt.Sprintf("⭐️ 评分：%.1f/10", attrs.Rating))
	}

	if attrs.Kind == media.KindEpisode {
		lines = append(lines, "📺 媒体类型：剧集")
	} else {
		lines = append(lines, "🎦 媒体类型：电影")
	}

	if attrs.Category != "" {
		lines = append(lines, "🏷 归类："+attrs.Category)
	}

	if quality := media.QualityLabel(attrs.VideoWidth, attrs.VideoHeight, attrs.Quality); quality != "" {
		lines = append(lines, "🖼 质量："+quality)
	}

	lines = append(lines, fmt.Sprintf("📂 文件：%d 个", fileCount))

	if sizeText != "" {
		lines = append(lines, fmt.Sprintf("💾 %s：%s", sizeLabel, sizeText))
	}

	if attrs.TMDBID != "" {
		lines = append(lines, "🍿 TMDB ID："+attrs.TMDBID)
	}

	if attrs.Summary != "" {
		lines = append(lines, "", "📝 简介："+truncateRunes(attrs.Summary, summaryRuneLimit))
	}

	if links := buildLinks(attrs); len(links) > 0 {
		lines = append(lines, "", "🌐 链接：", strings.Join(links, " | "))
	}

	return strings.Join(lines, "\n")
}

// buildLinks assembles the catalog links: the TMDB page for the item's
// kind, one Douban entry (direct subject page, IMDb-id search, or
// title search, in that order), and the IMDb page.
func buildLinks(attrs media.NotificationAttributes) []string {
	var links []string

	if attrs.TMDBID != "" {
		links = append(links, fmt.Sprintf("🔗 [TMDB](https://www.themoviedb.org/%s/%s)",
			attrs.Kind.CatalogType(), attrs.TMDBID))
	}

	switch {
	case attrs.DoubanID != "":
		links = append(links, fmt.Sprintf("🎬 [豆瓣](https://movie.douban.com/subject/%s/)", attrs.DoubanID))
	case attrs.IMDBID != "":
		links = append(links, fmt.Sprintf("🎬 [豆瓣](https://www.douban.com/search?cat=1002&q=%s)", attrs.IMDBID))
	case attrs.TitleYear != "":
		links = append(links, fmt.Sprintf("🎬 [豆瓣](https://www.douban.com/search?cat=1002&q=%s)", escapeQuery(attrs.TitleYear)))
	}

	if attrs.IMDBID != "" {
		links = append(links, fmt.Sprintf("🌟 [IMDb](https://www.imdb.com/title/%s/)", attrs.IMDBID))
	}

	return links
}

// escapeQuery percent-encodes every reserved character, including spaces
// as %20 rather than "+".
func escapeQuery(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
