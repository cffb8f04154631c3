package ml

import (
	"math"
	"sync"
	"time"

	"bank-intel/internal/common"
	"bank-intel/internal/model"

	"github.com/rs/zerolog/log"
)

// DriftMethod names how a domain's recent inputs are compared with the data
// its scaler was fit on.
type DriftMethod string

const (
	// DriftMeanShift applies to standard scalers: the absolute mean of the
	// scaled window, i.e. how many training standard deviations it has moved.
	DriftMeanShift DriftMethod = "mean_shift"
	// DriftRangeExit applies to min-max scalers: the share of the window that
	// falls outside the training range.
	DriftRangeExit DriftMethod = "range_exit"
)

const maxDriftAlerts = 100

// DriftConfig configures input drift detection. A zero WindowSize disables it.
type DriftConfig struct {
	WindowSize         int
	MeanShiftThreshold float64
	RangeExitThreshold float64
	Cooldown           time.Duration
}

// DefaultDriftConfig returns a 500-row window, half a standard deviation of
// mean shift and 5% out-of-range rows as alert thresholds.
func DefaultDriftConfig() DriftConfig {
	return DriftConfig{
		WindowSize:         common.DefaultDriftWindow,
		MeanShiftThreshold: common.DefaultDriftMeanShift,
		RangeExitThreshold: common.DefaultDriftRangeExit,
		Cooldown:           common.DefaultDriftCooldown,
	}
}

// DriftMetrics is satisfied by metrics implementations that export drift.
type DriftMetrics interface {
	DriftScoreSet(domain, feature string, score float64)
	DriftAlertsInc(domain, feature string)
}

// DriftAlert is raised when a feature's score crosses its threshold.
type DriftAlert struct {
	Timestamp time.Time   `json:"timestamp"`
	Domain    Domain      `json:"domain"`
	Feature   string      `json:"feature"`
	Method    DriftMethod `json:"method"`
	Score     float64     `json:"score"`
	Threshold float64     `json:"threshold"`
}

// DriftStatus is a snapshot of one domain's window.
type DriftStatus struct {
	Method   DriftMethod        `json:"method"`
	Observed int                `json:"observed"`
	Scores   map[string]float64 `json:"scores,omitempty"`
}

// DriftDetector keeps a sliding window of scaled inputs per domain and scores
// it against the training distribution encoded in each scaler.
type DriftDetector struct {
	mu        sync.Mutex
	store     *model.Store
	config    DriftConfig
	metrics   DriftMetrics
	windows   map[Domain]*driftWindow
	lastAlert map[string]time.Time
	alerts    []DriftAlert
	now       func() time.Time
}

type driftWindow struct {
	method   DriftMethod
	rows     [][]float64
	next     int
	observed int
	scores   []float64
}

// NewDriftDetector returns nil when config disables detection. metrics may be nil.
func NewDriftDetector(store *model.Store, config DriftConfig, metrics DriftMetrics) *DriftDetector {
	if store == nil || config.WindowSize <= 0 {
		return nil
	}
	return &DriftDetector{
		store:     store,
		config:    config,
		metrics:   metrics,
		windows:   make(map[Domain]*driftWindow),
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
	}
}

func (d *DriftDetector) scaler(domain Domain) model.Scaler {
	switch domain {
	case DomainLoanApproval:
		return d.store.LoanScaler()
	case DomainLoanAmount:
		return d.store.AmountScaler()
	case DomainFraud:
		return d.store.FraudScaler()
	}
	return nil
}

// Observe adds one raw feature vector to the domain's window. The window is
// scored every tenth of its size once full.
func (d *DriftDetector) Observe(domain Domain, features []float64) {
	if d == nil {
		return
	}
	scaler := d.scaler(domain)
	if scaler == nil {
		return
	}
	var method DriftMethod
	switch scaler.Kind() {
	case common.ArtifactKindStdScaler:
		method = DriftMeanShift
	case common.ArtifactKindMinMaxScaler:
		method = DriftRangeExit
	default:
		return
	}
	scaled, err := scaler.Transform(features)
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.windows[domain]
	if !ok {
		w = &driftWindow{method: method, rows: make([][]float64, d.config.WindowSize)}
		d.windows[domain] = w
	}
	w.rows[w.next] = scaled
	w.next = (w.next + 1) % len(w.rows)
	w.observed++

	every := len(w.rows) / 10
	if every < 1 {
		every = 1
	}
	if w.observed < len(w.rows) || w.observed%every != 0 {
		return
	}
	w.scores = w.score()
	d.check(domain, w)
}

func (w *driftWindow) score() []float64 {
	scores := make([]float64, len(w.rows[0]))
	for _, row := range w.rows {
		for j, v := range row {
			switch w.method {
			case DriftMeanShift:
				scores[j] += v
			case DriftRangeExit:
				if v < -1e-9 || v > 1+1e-9 {
					scores[j]++
				}
			}
		}
	}
	n := float64(len(w.rows))
	for j := range scores {
		scores[j] = math.Abs(scores[j] / n)
	}
	return scores
}

func (d *DriftDetector) check(domain Domain, w *driftWindow) {
	threshold := d.config.MeanShiftThreshold
	if w.method == DriftRangeExit {
		threshold = d.config.RangeExitThreshold
	}
	now := d.now()
	for j, feature := range domain.Columns() {
		score := w.scores[j]
		if d.metrics != nil {
			d.metrics.DriftScoreSet(string(domain), feature, score)
		}
		if threshold <= 0 || score <= threshold {
			continue
		}
		key := string(domain) + "/" + feature
		if last, ok := d.lastAlert[key]; ok && now.Sub(last) < d.config.Cooldown {
			continue
		}
		d.lastAlert[key] = now

		alert := DriftAlert{Timestamp: now, Domain: domain, Feature: feature, Method: w.method, Score: score, Threshold: threshold}
		d.alerts = append(d.alerts, alert)
		if len(d.alerts) > maxDriftAlerts {
			d.alerts = d.alerts[len(d.alerts)-maxDriftAlerts:]
		}
		if d.metrics != nil {
			d.metrics.DriftAlertsInc(string(domain), feature)
		}
		log.Warn().
			Str("domain", string(domain)).
			Str("feature", feature).
			Str("method", string(w.method)).
			Float64("score", score).
			Float64("threshold", threshold).
			Msg("input drift detected")
	}
}

// Status returns a snapshot per observed domain.
func (d *DriftDetector) Status() map[Domain]DriftStatus {
	out := make(map[Domain]DriftStatus)
	if d == nil {
		return out
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for domain, w := range d.windows {
		st := DriftStatus{Method: w.method, Observed: w.observed}
		if w.scores != nil {
			st.Scores = make(map[string]float64, len(w.scores))
			for j, feature := range domain.Columns() {
				st.Scores[feature] = w.scores[j]
			}
		}
		out[domain] = st
	}
	return out
}

// Alerts returns the most recent alerts, oldest first.
func (d *DriftDetector) Alerts() []DriftAlert {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DriftAlert(nil), d.alerts...)
}
