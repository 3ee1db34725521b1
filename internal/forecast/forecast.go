// Package forecast projects near-term risk score trends per entity.
//
// Each entity (the network as a whole, or an individual wallet) gets a
// fixed-capacity series of observed scores. Forecasts combine a recent-window
// trend classification with exponential smoothing and a linear extrapolation
// over the requested horizon. Confidence falls as recent volatility rises.
package forecast

import (
	"math"
	"sort"
	"sync"
	"time"
)

// NetworkEntity is the series ID for the network-wide aggregate.
const NetworkEntity = "network"

// Trend classifies the direction of recent scores.
type Trend string

const (
	TrendUp      Trend = "UP"
	TrendDown    Trend = "DOWN"
	TrendStable  Trend = "STABLE"
	TrendUnknown Trend = "UNKNOWN"
)

// trendMargin is the minimum mean shift between the prior and recent
// windows before a series counts as moving.
const trendMargin = 5.0

// stddevPenalty converts recent volatility into lost confidence points.
const stddevPenalty = 4.0

// Point is a single observed score.
type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Result is a forecast for one entity. Points holds one projected score per
// horizon step; PredictedValue is the final point's value.
type Result struct {
	EntityID       string    `json:"entityId"`
	Trend          Trend     `json:"trend"`
	PredictedValue float64   `json:"predictedValue"`
	Confidence     float64   `json:"confidence"`
	Horizon        int       `json:"horizon"`
	SampleCount    int       `json:"sampleCount"`
	Sufficient     bool      `json:"sufficient"`
	Points         []Point   `json:"points,omitempty"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

type series struct {
	mu     sync.Mutex
	points []Point
}

// Forecaster holds per-entity score series.
type Forecaster struct {
	mu       sync.RWMutex
	series   map[string]*series
	capacity int
	window   int
	alpha    float64
}

// NewForecaster creates a forecaster. capacity bounds each series, window is
// the trend comparison width, alpha is the smoothing factor.
func NewForecaster(capacity, window int, alpha float64) *Forecaster {
	if capacity <= 0 {
		capacity = 200
	}
	if window <= 0 {
		window = 10
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.3
	}
	return &Forecaster{
		series:   make(map[string]*series),
		capacity: capacity,
		window:   window,
		alpha:    alpha,
	}
}

// Record appends an observed score to the entity's series, evicting the
// oldest point once the series is full.
func (f *Forecaster) Record(entityID string, at time.Time, value float64) {
	s := f.getSeries(entityID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = append(s.points, Point{At: at, Value: value})
	if len(s.points) > f.capacity {
		s.points = s.points[len(s.points)-f.capacity:]
	}
}

// Forecast projects the entity's score over the given horizon (number of
// future steps, default 1). Fewer than 2 recorded points yields an explicit
// insufficient result with no extrapolation.
func (f *Forecaster) Forecast(entityID string, horizon int) Result {
	if horizon <= 0 {
		horizon = 1
	}

	points := f.snapshot(entityID)
	res := Result{
		EntityID:    entityID,
		Horizon:     horizon,
		SampleCount: len(points),
		GeneratedAt: time.Now(),
	}

	if len(points) < 2 {
		res.Trend = TrendUnknown
		return res
	}
	res.Sufficient = true

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}

	k := f.window
	if k > len(values)/2 {
		k = len(values) / 2
	}
	recent := mean(values[len(values)-k:])
	prior := mean(values[len(values)-2*k : len(values)-k])
	delta := recent - prior

	switch {
	case delta > trendMargin:
		res.Trend = TrendUp
	case delta < -trendMargin:
		res.Trend = TrendDown
	default:
		res.Trend = TrendStable
	}

	smoothed := values[0]
	for _, v := range values[1:] {
		smoothed = f.alpha*v + (1-f.alpha)*smoothed
	}

	// Projected points keep the observed series' spacing so their
	// timestamps stay plausible.
	interval := points[len(points)-1].At.Sub(points[0].At) / time.Duration(len(points)-1)
	if interval <= 0 {
		interval = time.Second
	}

	slope := delta / float64(k)
	res.Points = make([]Point, horizon)
	for step := 1; step <= horizon; step++ {
		res.Points[step-1] = Point{
			At:    res.GeneratedAt.Add(interval * time.Duration(step)),
			Value: round2(clamp(smoothed+slope*float64(step), 0, 100)),
		}
	}
	res.PredictedValue = res.Points[horizon-1].Value

	recentStddev := stddev(values[len(values)-k:])
	res.Confidence = round2(clamp(100-recentStddev*stddevPenalty, 0, 100))

	return res
}

// Entities lists every entity with at least one recorded point, sorted.
func (f *Forecaster) Entities() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.series))
	for id := range f.series {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SampleCount returns the current series length for an entity.
func (f *Forecaster) SampleCount(entityID string) int {
	return len(f.snapshot(entityID))
}

func (f *Forecaster) getSeries(entityID string) *series {
	f.mu.RLock()
	s, ok := f.series[entityID]
	f.mu.RUnlock()
	if ok {
		return s
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok = f.series[entityID]; ok {
		return s
	}
	s = &series{}
	f.series[entityID] = s
	return s
}

func (f *Forecaster) snapshot(entityID string) []Point {
	f.mu.RLock()
	s, ok := f.series[entityID]
	f.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
