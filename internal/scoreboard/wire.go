package scoreboard

import (
	"strconv"
	"time"
)

// The following types mirror the subset of ESPN's public scoreboard/summary
// JSON shape this client depends on. ESPN returns far more than this; only
// the fields needed to build a RawEvent are decoded.

type scoreboardResponse struct {
	Events []wireEvent `json:"events"`
}

type summaryResponse struct {
	Header wireEvent `json:"header"`
}

type wireEvent struct {
	ID           string `json:"id"`
	Date         string `json:"date"`
	Competitions []struct {
		Competitors []struct {
			HomeAway string `json:"homeAway"`
			Score    string `json:"score"`
			Team     struct {
				DisplayName string `json:"displayName"`
			} `json:"team"`
		} `json:"competitors"`
		Status struct {
			Period int `json:"period"`
			Type    struct {
				State string `json:"state"` // "pre", "in", "post"
			} `json:"type"`
			DisplayClock string `json:"displayClock"`
		} `json:"status"`
		// Baseball-only fields; absent / zero-valued for other sports.
		Situation struct {
			IsTopInning bool `json:"isTopInning"`
			Outs        int  `json:"outs"`
		} `json:"situation"`
	} `json:"competitions"`
}

// toRawEvent extracts a RawEvent from the decoded wire shape. Returns
// ok=false when the event has no competition data to extract from (seen
// occasionally on postponed/canceled games).
func (ev wireEvent) toRawEvent(sportKey string) (RawEvent, bool) {
	if len(ev.Competitions) == 0 {
		return RawEvent{}, false
	}
	comp := ev.Competitions[0]

	raw := RawEvent{
		ID:           ev.ID,
		SportKey:     sportKey,
		State:        comp.Status.Type.State,
		Period:       comp.Status.Period,
		ClockDisplay: comp.Status.DisplayClock,
		IsTopInning:  comp.Situation.IsTopInning,
		Outs:         comp.Situation.Outs,
	}
	if t, err := time.Parse(time.RFC3339, ev.Date); err == nil {
		raw.StartTime = t
	}

	for _, c := range comp.Competitors {
		score, _ := strconv.Atoi(c.Score)
		switch c.HomeAway {
		case "home":
			raw.HomeTeam = c.Team.DisplayName
			raw.HomeScore = score
		case "away":
			raw.AwayTeam = c.Team.DisplayName
			raw.AwayScore = score
		}
	}

	return raw, true
}
