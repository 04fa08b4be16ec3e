package media

import (
	"regexp"
	"strings"
)

// Matches "dolby vision", "dolby.vision", "dolbyvision" and the bare "dv"
// marker. The bare form also hits strings like "dvdrip"; that matches the
// release-name conventions this scanner targets.
var dolbyVisionRe = regexp.MustCompile(`dolby.?vision|dv`)

// QualityFromPath scans a file name or path for resolution and dynamic-range
// markers. Markers are matched on the lowercased input and joined with
// spaces, e.g. "2160p (4K) HDR".
func QualityFromPath(path string) string {
	if path == "" {
		return ""
	}
	low := strings.ToLower(path)

	var found []string
	if strings.Contains(low, "2160p") || strings.Contains(low, "4k") {
		found = append(found, "2160p (4K)")
	}
	if strings.Contains(low, "1080p") {
		found = append(found, "1080p")
	}
	if strings.Contains(low, "720p") {
		found = append(found, "720p")
	}
	if hasBareHDR(low) {
		found = append(found, "HDR")
	}
	if dolbyVisionRe.MatchString(low) {
		found = append(found, "Dolby Vision")
	}
	if strings.Contains(low, "imax") {
		found = append(found, "IMAX")
	}
	return strings.Join(found, " ")
}

// hasBareHDR reports an "hdr" occurrence not immediately followed by "10",
// so plain HDR tags match while HDR10 is left to the dedicated label.
func hasBareHDR(low string) bool {
	for i := 0; ; {
		j := strings.Index(low[i:], "hdr")
		if j < 0 {
			return false
		}
		at := i + j + len("hdr")
		if !strings.HasPrefix(low[at:], "10") {
			return true
		}
		i = at
	}
}

// QualityLabel combines a resolution tier with dynamic-range tags for
// display, joined by a full-width bar. The tier prefers measured video
// dimensions and falls back to markers in the free-text quality string.
func QualityLabel(width, height int, qualityText string) string {
	res := resolutionTier(width, height, qualityText)
	hdr := strings.Join(HDRTags(qualityText), "｜")

	switch {
	case res == "":
		return hdr
	case hdr == "":
		return res
	default:
		return res + "｜" + hdr
	}
}

func resolutionTier(width, height int, qualityText string) string {
	switch {
	case width >= 3800 || height >= 2000:
		return "2160p (4K)"
	case width >= 1900 || height >= 1000:
		return "1080p"
	case width >= 1200 || height >= 700:
		return "720p"
	}

	low := strings.ToLower(qualityText)
	switch {
	case strings.Contains(low, "4k") || strings.Contains(low, "2160p"):
		return "2160p (4K)"
	case strings.Contains(low, "1080p"):
		return "1080p"
	case strings.Contains(low, "720p"):
		return "720p"
	}
	return ""
}

// HDRTags derives dynamic-range badges from the free-text quality string.
func HDRTags(qualityText string) []string {
	if qualityText == "" {
		return nil
	}
	low := strings.ToLower(qualityText)

	var tags []string
	if strings.Contains(low, "hdr") && !strings.Contains(low, "dv") {
		tags = append(tags, "HDR10")
	}
	if strings.Contains(low, "dolby vision") || strings.Contains(low, "dv") {
		tags = append(tags, "Dolby Vision")
	}
	if strings.Contains(low, "imax") {
		tags = append(tags, "IMAX")
	}
	return tags
}
