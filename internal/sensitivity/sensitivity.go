// Package sensitivity implements the adaptive alert-level state machine.
//
// The controller watches the rate of high-severity assessments over a
// trailing window and maps it to a level from 5 (normal) down to 1
// (maximum alert). Each level carries an effective scoring threshold:
// the more alert the system, the lower the threshold. The level is purely
// a function of the controller's own rolling history — there are no
// external transitions.
package sensitivity

import (
	"sync"
	"time"

	"github.com/qubicsec/aegis/internal/metrics"
)

// Levels, from maximum alert to normal.
const (
	LevelMaxAlert = 1
	LevelNormal   = 5
)

// maxTransitions caps the transition log.
const maxTransitions = 50

// eventCap bounds the high-severity timestamp queue. The window rule only
// needs counts within the trailing window; anything beyond the cap is
// already more than enough to pin the level at maximum alert.
const eventCap = 1024

// thresholdByLevel maps a level to its effective scoring threshold.
var thresholdByLevel = map[int]float64{
	1: 50,
	2: 60,
	3: 70,
	4: 75,
	5: 80,
}

// breakpoint maps a minimum high-severity count to a level. Ordered from
// most to least severe; first match wins.
type breakpoint struct {
	minCount int
	level    int
}

var defaultBreakpoints = []breakpoint{
	{10, 1},
	{5, 2},
	{3, 3},
	{1, 4},
}

// Transition records a single level change.
type Transition struct {
	From         int       `json:"from"`
	To           int       `json:"to"`
	TriggerCount int       `json:"triggerCount"`
	At           time.Time `json:"at"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	Level              int          `json:"level"`
	EffectiveThreshold float64      `json:"effectiveThreshold"`
	RecentHighSeverity int          `json:"recentHighSeverity"`
	Window             string       `json:"window"`
	Transitions        []Transition `json:"transitions,omitempty"`
}

// Controller is the alert-level state machine.
type Controller struct {
	mu           sync.Mutex
	window       time.Duration
	events       []time.Time // high-severity timestamps, oldest first
	level        int
	transitions  []Transition
	onTransition func(Transition)
}

// NewController creates a controller at the normal level.
func NewController(window time.Duration) *Controller {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &Controller{
		window: window,
		level:  LevelNormal,
	}
}

// OnTransition sets a callback invoked on level changes.
func (c *Controller) OnTransition(fn func(Transition)) {
	c.mu.Lock()
	c.onTransition = fn
	c.mu.Unlock()
}

// RecordHighSeverity notes a high-severity assessment and recomputes the
// level. Called once per HIGH/CRITICAL assessment.
func (c *Controller) RecordHighSeverity(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, at)
	if len(c.events) > eventCap {
		c.events = c.events[len(c.events)-eventCap:]
	}
	c.recompute(at)
}

// Evaluate recomputes the level against now. Called at least once per
// transaction so the level decays back to normal as the window empties.
func (c *Controller) Evaluate(now time.Time) (level int, threshold float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recompute(now)
	return c.level, thresholdByLevel[c.level]
}

// Level returns the current level without recomputing.
func (c *Controller) Level() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// EffectiveThreshold returns the threshold for the current level.
func (c *Controller) EffectiveThreshold() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return thresholdByLevel[c.level]
}

// Status returns the current state including the transition log tail.
func (c *Controller) Status(now time.Time) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recompute(now)

	tail := make([]Transition, len(c.transitions))
	copy(tail, c.transitions)

	return Status{
		Level:              c.level,
		EffectiveThreshold: thresholdByLevel[c.level],
		RecentHighSeverity: len(c.events),
		Window:             c.window.String(),
		Transitions:        tail,
	}
}

// recompute evicts expired events and applies the breakpoint table.
// Caller holds the lock.
func (c *Controller) recompute(now time.Time) {
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(c.events) && c.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		c.events = c.events[i:]
	}

	count := len(c.events)
	next := LevelNormal
	for _, bp := range defaultBreakpoints {
		if count >= bp.minCount {
			next = bp.level
			break
		}
	}

	if next != c.level {
		tr := Transition{
			From:         c.level,
			To:           next,
			TriggerCount: count,
			At:           now,
		}
		c.transitions = append(c.transitions, tr)
		if len(c.transitions) > maxTransitions {
			c.transitions = c.transitions[len(c.transitions)-maxTransitions:]
		}
		c.level = next
		metrics.SensitivityLevel.Set(float64(next))
		if c.onTransition != nil {
			fn := c.onTransition
			go fn(tr)
		}
	}
}
