package emby

import (
	"bytes"

	"github.com/goccy/go-json"
)

// payload covers the object-shaped webhook bodies: either a plain envelope
// with a top-level Event, or the template form that segregates items into
// "tv" and "mv" lists.
type payload struct {
	Event string     `json:"Event"`
	TV    []envelope `json:"tv"`
	MV    []envelope `json:"mv"`
}

// envelope is one webhook entry wrapping a library item.
type envelope struct {
	Event       string `json:"Event"`
	Description string `json:"Description"`
	Item        item   `json:"Item"`
}

// item mirrors the subset of the Emby item schema the relay consumes.
// Index numbers are pointers so that an explicit zero (specials) survives
// the presence check.
type item struct {
	Type              string            `json:"Type"`
	Name              string            `json:"Name"`
	SeriesName        string            `json:"SeriesName"`
	SeasonName        string            `json:"SeasonName"`
	ProductionYear    int               `json:"ProductionYear"`
	IndexNumber       *int              `json:"IndexNumber"`
	ParentIndexNumber *int              `json:"ParentIndexNumber"`
	ProviderIds       map[string]string `json:"ProviderIds"`
	CommunityRating   float64           `json:"CommunityRating"`
	CriticRating      float64           `json:"CriticRating"`
	Genres            []string          `json:"Genres"`
	FileName          string            `json:"FileName"`
	Path              string            `json:"Path"`
	Width             int               `json:"Width"`
	Height            int               `json:"Height"`
	Size              int64             `json:"Size"`
	Overview          string            `json:"Overview"`
	ID                string            `json:"Id"`
	SeriesID          string            `json:"SeriesId"`
	SeasonID          string            `json:"SeasonId"`
}

// decodeEnvelopes accepts the four shapes Emby (and the template exporter)
// produce: {"tv": [...]}, {"mv": [...]}, a bare array, or a bare envelope.
func decodeEnvelopes(body []byte) []envelope {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var list []envelope
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil
		}
		return list
	}
	var p payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil
	}
	switch {
	case len(p.TV) > 0:
		return p.TV
	case len(p.MV) > 0:
		return p.MV
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}
	return []envelope{env}
}
