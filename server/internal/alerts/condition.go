package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/obsidianstack/eventhub/server/internal/scraper"
)

// fields maps a condition field name onto the scraped value it reads.
var fields = map[string]func(a scraper.AgentStats) float64{
	"up": func(a scraper.AgentStats) float64 {
		if a.Up {
			return 1
		}
		return 0
	},
	"recorded":  func(a scraper.AgentStats) float64 { return a.EventsRecorded },
	"delivered": func(a scraper.AgentStats) float64 { return a.BatchesDelivered },
	"abandoned": func(a scraper.AgentStats) float64 { return a.BatchesAbandoned },
	"retries":   func(a scraper.AgentStats) float64 { return a.Retries },
	"in_flight": func(a scraper.AgentStats) float64 { return a.InFlight },
	"abandoned_pct": func(a scraper.AgentStats) float64 {
		total := a.BatchesDelivered + a.BatchesAbandoned
		if total == 0 {
			return 0
		}
		return 100 * a.BatchesAbandoned / total
	},
}

var ops = map[string]func(v, threshold float64) bool{
	">":  func(v, t float64) bool { return v > t },
	">=": func(v, t float64) bool { return v >= t },
	"<":  func(v, t float64) bool { return v < t },
	"<=": func(v, t float64) bool { return v <= t },
	"==": func(v, t float64) bool { return v == t },
	"!=": func(v, t float64) bool { return v != t },
}

// condition is a parsed "field op value" expression such as
//
//	abandoned > 0
//	abandoned_pct >= 10
//	retries > 20
//	in_flight > 3
//	up == 0
type condition struct {
	field     string
	value     func(scraper.AgentStats) float64
	compare   func(v, threshold float64) bool
	threshold float64
}

// parseCondition compiles a rule condition.
func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", s)
	}
	value, ok := fields[parts[0]]
	if !ok {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", s, parts[0])
	}
	compare, ok := ops[parts[1]]
	if !ok {
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, parts[1])
	}
	threshold, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: threshold: %w", s, err)
	}
	return condition{field: parts[0], value: value, compare: compare, threshold: threshold}, nil
}

// eval returns whether the condition holds for a and the value it saw.
func (c condition) eval(a scraper.AgentStats) (bool, float64) {
	v := c.value(a)
	return c.compare(v, c.threshold), v
}
