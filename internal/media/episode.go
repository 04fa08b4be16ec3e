package media

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatEpisodeCode renders the canonical S##E## form.
func FormatEpisodeCode(season, episode int) string {
	return fmt.Sprintf("S%02dE%02d", season, episode)
}

// ParseEpisodeCode splits a canonical code into its season and episode
// numbers. The accepted shape is one leading marker character, the season
// digits, an "E", and the episode digits; anything else reports ok=false.
func ParseEpisodeCode(code string) (season, episode int, ok bool) {
	parts := strings.Split(code, "E")
	if len(parts) < 2 || len(parts[0]) < 2 {
		return 0, 0, false
	}
	season, err := strconv.Atoi(parts[0][1:])
	if err != nil {
		return 0, 0, false
	}
	episode, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return season, episode, true
}
