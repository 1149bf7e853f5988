package scoreboard

// SportEntry is one row of the sport registry: adding a league is a table
// entry here, not a new code path. PeriodLengthSeconds and TotalPeriods
// drive the time-remaining estimate; a sport with irregular period length
// (baseball) leaves PeriodLengthSeconds at zero, and ParseGameState
// estimates its time remaining from outs instead.
type SportEntry struct {
	Sport               string
	Endpoint            string // ESPN-shaped {sport}/{league} path segment
	GroupID             string // college sports: fetch all games, not just ranked teams
	PeriodLengthSeconds int
	TotalPeriods        int
	ClockCountsUp       bool
	SegmentLabels        map[int]string // period number -> normalized segment label
}

// Registry is the sport table. Keyed by (sport, league).
var Registry = map[string]SportEntry{
	"basketball/nba": {
		Sport: "basketball", Endpoint: "basketball/nba",
		PeriodLengthSeconds: 12 * 60, TotalPeriods: 4,
		SegmentLabels: map[int]string{1: "q1", 2: "q2", 3: "q3", 4: "q4"},
	},
	"basketball/mens-college-basketball": {
		Sport: "basketball", Endpoint: "basketball/mens-college-basketball", GroupID: "50",
		PeriodLengthSeconds: 20 * 60, TotalPeriods: 2,
		SegmentLabels: map[int]string{1: "h1", 2: "h2"},
	},
	"basketball/womens-college-basketball": {
		Sport: "basketball", Endpoint: "basketball/womens-college-basketball", GroupID: "50",
		PeriodLengthSeconds: 20 * 60, TotalPeriods: 2,
		SegmentLabels: map[int]string{1: "h1", 2: "h2"},
	},
	"football/nfl": {
		Sport: "football", Endpoint: "football/nfl",
		PeriodLengthSeconds: 15 * 60, TotalPeriods: 4,
		SegmentLabels: map[int]string{1: "q1", 2: "q2", 3: "q3", 4: "q4"},
	},
	"football/college-football": {
		Sport: "football", Endpoint: "football/college-football", GroupID: "80",
		PeriodLengthSeconds: 15 * 60, TotalPeriods: 4,
		SegmentLabels: map[int]string{1: "q1", 2: "q2", 3: "q3", 4: "q4"},
	},
	"hockey/nhl": {
		Sport: "hockey", Endpoint: "hockey/nhl",
		PeriodLengthSeconds: 20 * 60, TotalPeriods: 3,
		SegmentLabels: map[int]string{1: "p1", 2: "p2", 3: "p3"},
	},
	"soccer/eng.1": {
		Sport: "soccer", Endpoint: "soccer/eng.1",
		PeriodLengthSeconds: 45 * 60, TotalPeriods: 2, ClockCountsUp: true,
		SegmentLabels: map[int]string{1: "h1", 2: "h2"},
	},
	"soccer/usa.1": {
		Sport: "soccer", Endpoint: "soccer/usa.1",
		PeriodLengthSeconds: 45 * 60, TotalPeriods: 2, ClockCountsUp: true,
		SegmentLabels: map[int]string{1: "h1", 2: "h2"},
	},
	"baseball/mlb": {
		Sport: "baseball", Endpoint: "baseball/mlb",
		// Innings are not fixed-length; time remaining is estimated from
		// outs and inning count instead of period_length*periods_remaining.
		SegmentLabels: map[int]string{1: "i1", 2: "i2", 3: "i3", 4: "i4", 5: "i5", 6: "i6", 7: "i7", 8: "i8", 9: "i9"},
	},
}

// Segment returns the normalized label for a period, or "ot" when the
// registry has no entry for it (e.g. overtime).
func (e SportEntry) Segment(period int) string {
	if label, ok := e.SegmentLabels[period]; ok {
		return label
	}
	return "ot"
}
