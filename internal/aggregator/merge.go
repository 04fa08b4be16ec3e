package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"embygram/internal/media"
)

// allConsistent reports whether every entry carries the same non-empty
// series and season ids as the first one. A false result means the
// batch was corrupted somewhere between keying and flush and must not
// be merged.
func allConsistent(entries []entry) bool {
	first := entries[0].attrs
	if first.SeriesID == "" || first.SeasonID == "" {
		return false
	}
	for _, it := range entries[1:] {
		if it.attrs.SeriesID != first.SeriesID || it.attrs.SeasonID != first.SeasonID {
			return false
		}
	}
	return true
}

// mergeEntries condenses a consistent batch into the display range
// string and the summed size. Sizes re-parse each entry's display text
// so the total reflects what the per-episode messages would have shown.
func mergeEntries(entries []entry) (ranges string, totalSizeText string, totalBytes int64) {
	codes := make([]string, 0, len(entries))
	for _, it := range entries {
		if it.attrs.EpisodeCode != "" {
			codes = append(codes, it.attrs.EpisodeCode)
		}
		totalBytes += media.ParseSize(it.attrs.SizeText)
	}
	ranges = strings.Join(CompressEpisodeRanges(codes), ", ")
	if totalBytes > 0 {
		totalSizeText = media.FormatSize(totalBytes)
	}
	return ranges, totalSizeText, totalBytes
}

type parsedCode struct {
	season  int
	episode int
	raw     string
	ok      bool
}

// CompressEpisodeRanges sorts episode codes and folds maximal runs of
// consecutive episodes within one season into "S01E01-E03" tokens.
// Codes that do not parse keep their raw text as standalone tokens and
// sort ahead of season one.
func CompressEpisodeRanges(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}

	parsed := make([]parsedCode, 0, len(codes))
	for _, code := range codes {
		season, episode, ok := media.ParseEpisodeCode(code)
		if !ok {
			parsed = append(parsed, parsedCode{raw: code})
			continue
		}
		parsed = append(parsed, parsedCode{season: season, episode: episode, raw: code, ok: true})
	}

	sort.Slice(parsed, func(i, j int) bool {
		if parsed[i].season != parsed[j].season {
			return parsed[i].season < parsed[j].season
		}
		if parsed[i].episode != parsed[j].episode {
			return parsed[i].episode < parsed[j].episode
		}
		return parsed[i].raw < parsed[j].raw
	})

	out := make([]string, 0, len(parsed))
	for i := 0; i < len(parsed); {
		p := parsed[i]
		if !p.ok {
			out = append(out, p.raw)
			i++
			continue
		}
		j := i
		for j+1 < len(parsed) && parsed[j+1].ok &&
			parsed[j+1].season == p.season &&
			parsed[j+1].episode == parsed[j].episode+1 {
			j++
		}
		if i == j {
			out = append(out, media.FormatEpisodeCode(p.season, p.episode))
		} else {
			out = append(out, fmt.Sprintf("%s-E%02d", media.FormatEpisodeCode(p.season, p.episode), parsed[j].episode))
		}
		i = j + 1
	}
	return out
}
