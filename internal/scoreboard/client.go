// Package scoreboard fetches and normalizes live game state from an
// ESPN-shaped JSON scoreboard feed, grounded in original_source's
// espn_service.py rather than the teacher's XML GoalServe client — this
// domain's external source is JSON REST, not XML.
package scoreboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

const cacheTTL = 30 * time.Second

// Client fetches scoreboards and per-game summaries. Cache misses for the
// same sport key collapse into one in-flight HTTP call via singleflight so
// N concurrent tracked-game refreshes don't fan out into N identical
// requests.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	mu       sync.RWMutex
	cache    map[string]cacheEntry
	sfGroup  singleflight.Group
}

type cacheEntry struct {
	events    []RawEvent
	fetchedAt time.Time
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		cache:   make(map[string]cacheEntry),
	}
}

// GetScoreboard returns every event for a sport key (e.g. "basketball/nba"),
// using a 30s in-process TTL cache. College sports pass the registry's
// GroupID so the feed returns every game, not just ranked teams.
func (c *Client) GetScoreboard(ctx context.Context, sportKey string) ([]RawEvent, error) {
	c.mu.RLock()
	entry, ok := c.cache[sportKey]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < cacheTTL {
		return entry.events, nil
	}

	v, err, _ := c.sfGroup.Do(sportKey, func() (any, error) {
		return c.fetchScoreboard(ctx, sportKey)
	})
	if err != nil {
		telemetry.Metrics.ScoreboardErrors.Inc()
		return nil, err
	}
	return v.([]RawEvent), nil
}

func (c *Client) fetchScoreboard(ctx context.Context, sportKey string) ([]RawEvent, error) {
	entry, ok := Registry[sportKey]
	if !ok {
		return nil, fmt.Errorf("scoreboard: unknown sport key %q", sportKey)
	}

	url := fmt.Sprintf("%s/%s/scoreboard", c.baseURL, entry.Endpoint)
	if entry.GroupID != "" {
		url += "?groups=" + entry.GroupID
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoreboard: fetch %s: %w", sportKey, err)
	}
	defer resp.Body.Close()
	telemetry.Metrics.ScoreboardLatency.Record(time.Since(start))
	telemetry.Metrics.ScoreboardPolls.Inc()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoreboard: %s returned status %d", sportKey, resp.StatusCode)
	}

	var wire scoreboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("scoreboard: decode %s: %w", sportKey, err)
	}

	events := make([]RawEvent, 0, len(wire.Events))
	for _, ev := range wire.Events {
		raw, ok := ev.toRawEvent(sportKey)
		if ok {
			events = append(events, raw)
		}
	}

	c.mu.Lock()
	c.cache[sportKey] = cacheEntry{events: events, fetchedAt: time.Now()}
	c.mu.Unlock()

	return events, nil
}

// GetGameSummary refreshes one game by id, bypassing the scoreboard-level
// cache — used by the Scoreboard Poll loop for already-tracked games where
// a fresh read matters more than batching.
func (c *Client) GetGameSummary(ctx context.Context, sportKey, eventID string) (RawEvent, error) {
	entry, ok := Registry[sportKey]
	if !ok {
		return RawEvent{}, fmt.Errorf("scoreboard: unknown sport key %q", sportKey)
	}

	url := fmt.Sprintf("%s/%s/summary?event=%s", c.baseURL, entry.Endpoint, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RawEvent{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return RawEvent{}, fmt.Errorf("scoreboard: summary %s: %w", eventID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RawEvent{}, fmt.Errorf("scoreboard: summary %s returned status %d", eventID, resp.StatusCode)
	}

	var wire summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return RawEvent{}, fmt.Errorf("scoreboard: decode summary %s: %w", eventID, err)
	}

	raw, ok := wire.Header.toRawEvent(sportKey)
	if !ok {
		return RawEvent{}, fmt.Errorf("scoreboard: summary %s missing competition data", eventID)
	}
	return raw, nil
}

// ParseGameState normalizes a RawEvent into the sport-agnostic GameState
// the rest of the system consumes.
func ParseGameState(raw RawEvent) (GameState, error) {
	entry, ok := Registry[raw.SportKey]
	if !ok {
		return GameState{}, fmt.Errorf("scoreboard: unknown sport key %q", raw.SportKey)
	}

	clockSeconds := parseClockSeconds(raw.ClockDisplay)

	gs := GameState{
		EID:          raw.ID,
		SportKey:     raw.SportKey,
		HomeTeam:     raw.HomeTeam,
		AwayTeam:     raw.AwayTeam,
		HomeScore:    raw.HomeScore,
		AwayScore:    raw.AwayScore,
		IsLive:       raw.State == "in",
		IsFinished:   raw.State == "post",
		Period:       raw.Period,
		Segment:      entry.Segment(raw.Period),
		ClockDisplay: raw.ClockDisplay,
		ClockSeconds: clockSeconds,
		StartTime:    raw.StartTime,
	}

	if entry.Sport == "baseball" {
		gs.IsTopInning = raw.IsTopInning
		gs.OutsRemaining = mlbOutsRemaining(raw.Period, raw.IsTopInning, raw.Outs)
		gs.TimeRemainingSeconds = gs.OutsRemaining * 180 // rough: ~3 min/out average pace
	} else {
		gs.TimeRemainingSeconds = timeRemainingSeconds(entry, clockSeconds, raw.Period)
	}

	return gs, nil
}
