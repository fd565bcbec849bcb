// Package scraper polls the /metrics endpoint of each configured agent and
// keeps the latest delivery counters per agent for the REST API.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/eventhub/server/internal/config"
)

const defaultScrapeTimeout = 10 * time.Second

// Agent metric family names, without the _total suffix the exporter adds to
// counters.
const (
	famRecorded  = "eventhub_events_recorded"
	famDelivered = "eventhub_batches_delivered"
	famAbandoned = "eventhub_batches_abandoned"
	famRetries   = "eventhub_send_retries"
	famInFlight  = "eventhub_batches_in_flight"
)

// AgentStats is the latest scrape of one agent.
type AgentStats struct {
	Name             string    `json:"name"`
	URL              string    `json:"metrics_url"`
	Up               bool      `json:"up"`
	Error            string    `json:"error,omitempty"`
	ScrapedAt        time.Time `json:"scraped_at"`
	EventsRecorded   float64   `json:"events_recorded"`
	BatchesDelivered float64   `json:"batches_delivered"`
	BatchesAbandoned float64   `json:"batches_abandoned"`
	Retries          float64   `json:"retries"`
	InFlight         float64   `json:"in_flight"`
}

// Scraper polls agents on an interval.
type Scraper struct {
	targets  []config.AgentTarget
	client   *http.Client
	interval time.Duration

	mu        sync.RWMutex
	stats     map[string]AgentStats
	observers []func(AgentStats)
}

// New creates a Scraper for targets.
func New(targets []config.AgentTarget, interval time.Duration) *Scraper {
	return &Scraper{
		targets:  targets,
		client:   &http.Client{Timeout: defaultScrapeTimeout},
		interval: interval,
		stats:    make(map[string]AgentStats, len(targets)),
	}
}

// Subscribe registers fn to receive every completed scrape. Call it before Run.
func (s *Scraper) Subscribe(fn func(AgentStats)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Run scrapes immediately and then every interval until ctx is cancelled.
func (s *Scraper) Run(ctx context.Context) {
	if len(s.targets) == 0 {
		return
	}
	s.ScrapeOnce(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.ScrapeOnce(ctx)
		}
	}
}

// ScrapeOnce polls every target concurrently and records the results.
func (s *Scraper) ScrapeOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, tgt := range s.targets {
		wg.Add(1)
		go func(tgt config.AgentTarget) {
			defer wg.Done()
			st := s.scrape(ctx, tgt)
			s.mu.Lock()
			s.stats[tgt.Name] = st
			observers := s.observers
			s.mu.Unlock()
			for _, fn := range observers {
				fn(st)
			}
		}(tgt)
	}
	wg.Wait()
}

// List returns the latest stats of every target, sorted by name. Targets not
// yet scraped are reported down.
func (s *Scraper) List() []AgentStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentStats, 0, len(s.targets))
	for _, tgt := range s.targets {
		st, ok := s.stats[tgt.Name]
		if !ok {
			st = AgentStats{Name: tgt.Name, URL: tgt.MetricsURL, Error: "not scraped yet"}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scraper) scrape(ctx context.Context, tgt config.AgentTarget) AgentStats {
	st := AgentStats{Name: tgt.Name, URL: tgt.MetricsURL, ScrapedAt: time.Now().UTC()}
	mfs, err := fetchMetrics(ctx, s.client, tgt.MetricsURL)
	if err != nil {
		st.Error = err.Error()
		slog.Warn("scraper: agent scrape failed", "agent", tgt.Name, "err", err)
		return st
	}
	st.Up = true
	st.EventsRecorded = sumFamily(family(mfs, famRecorded))
	st.BatchesDelivered = sumFamily(family(mfs, famDelivered))
	st.BatchesAbandoned = sumFamily(family(mfs, famAbandoned))
	st.Retries = sumFamily(family(mfs, famRetries))
	st.InFlight = sumFamily(family(mfs, famInFlight))
	return st
}

// fetchMetrics performs an HTTP GET to url and returns decoded metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return decodeMetrics(resp.Body, expfmt.ResponseFormat(resp.Header))
}

// decodeMetrics reads every metric family in r.
func decodeMetrics(r io.Reader, format expfmt.Format) (map[string]*dto.MetricFamily, error) {
	dec := expfmt.NewDecoder(r, format)
	mfs := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		if err := dec.Decode(mf); err != nil {
			if errors.Is(err, io.EOF) {
				return mfs, nil
			}
			if len(mfs) > 0 {
				// Partial parse: keep what was read.
				return mfs, nil
			}
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
		mfs[mf.GetName()] = mf
	}
}

// family looks name up with and without the counter _total suffix.
func family(mfs map[string]*dto.MetricFamily, name string) *dto.MetricFamily {
	if mf, ok := mfs[name+"_total"]; ok {
		return mf
	}
	return mfs[name]
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
