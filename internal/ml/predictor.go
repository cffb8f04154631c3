package ml

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"bank-intel/internal/model"
	"bank-intel/internal/policy"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	PredictionsInc(domain string)
	RuleDecisionsInc(domain, rule string)
	FailuresInc(domain string)
	LatencyObserve(domain string, seconds float64)
	FraudAlertsInc()
	CacheHitsInc()
}

// Recorder receives every decision the predictor produces, e.g. for an audit log.
type Recorder interface {
	RecordDecision(d Decision, input map[string]float64) error
}

// Config contains configuration for the predictor
type Config struct {
	Policy            policy.Policy
	SuspiciousCluster int
	CacheSize         int
	Drift             DriftConfig
}

// DefaultConfig returns the standard policy, cluster 0 as the suspicious one and
// no cache.
func DefaultConfig() Config {
	return Config{Policy: policy.Default()}
}

type Predictor struct {
	store    *model.Store
	config   Config
	cache    *lru.Cache
	metrics  MetricsInterface
	recorder Recorder
	drift    *DriftDetector
}

// New checks that every artifact in store was fit on the schema this package
// produces and returns a predictor sharing the store read-only. metrics and
// recorder may be nil.
func New(store *model.Store, config Config, metrics MetricsInterface, recorder Recorder) (*Predictor, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: model store is nil", model.ErrArtifact)
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	for _, c := range []struct {
		domain Domain
		arts   []model.Artifact
	}{
		{DomainLoanApproval, []model.Artifact{store.LoanScaler(), store.LoanClassifier()}},
		{DomainLoanAmount, []model.Artifact{store.AmountScaler(), store.AmountRegressor()}},
		{DomainFraud, []model.Artifact{store.FraudScaler(), store.FraudClusterer()}},
	} {
		for _, a := range c.arts {
			if err := model.SameSchema(c.domain.Columns(), a.Features()); err != nil {
				return nil, fmt.Errorf("%w: %s %s: %v", model.ErrArtifact, c.domain, a.Kind(), err)
			}
		}
	}

	p := &Predictor{
		store:    store,
		config:   config,
		metrics:  metrics,
		recorder: recorder,
	}
	if config.CacheSize > 0 {
		cache, err := lru.New(config.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create decision cache: %w", err)
		}
		p.cache = cache
	}
	driftMetrics, _ := metrics.(DriftMetrics)
	p.drift = NewDriftDetector(store, config.Drift, driftMetrics)
	return p, nil
}

// ApproveLoan rejects on policy first; otherwise the classifier's label 1 means
// approved and anything else a plain rejection.
func (p *Predictor) ApproveLoan(app LoanApplication) (Decision, error) {
	start := time.Now()
	domain := DomainLoanApproval

	if err := app.Validate(); err != nil {
		return p.fail(domain, err)
	}

	if rule, rejected := p.config.Policy.ScreenLoan(app.CreditScore, app.DTIRatio, app.EmploymentStatus == Unemployed); rejected {
		if p.metrics != nil {
			p.metrics.RuleDecisionsInc(string(domain), string(rule))
		}
		features := app.Features()
		return p.finish(start, Rejected(rule), features, features), nil
	}

	features := app.Features()
	d, err := p.infer(domain, features, func() (Decision, error) {
		scaled, err := p.store.LoanScaler().Transform(features)
		if err != nil {
			return Decision{}, fmt.Errorf("scale loan application: %w", err)
		}
		label, err := p.store.LoanClassifier().Predict(scaled)
		if err != nil {
			return Decision{}, fmt.Errorf("classify loan application: %w", err)
		}
		if label == 1 {
			return Approved(), nil
		}
		return Rejected(""), nil
	})
	if err != nil {
		return p.fail(domain, err)
	}
	return p.finish(start, d, features, features), nil
}

// PredictAmount clamps income and DTI to their ceilings, runs the regressor and
// floors the result at zero before truncating to whole units. The recorder sees
// the request as sent; Adjusted lists the clamps applied.
func (p *Predictor) PredictAmount(req AmountRequest) (Decision, error) {
	start := time.Now()
	domain := DomainLoanAmount

	if err := req.Validate(); err != nil {
		return p.fail(domain, err)
	}

	input := req.Features()
	var adjusted []policy.Rule
	req.Income, req.DTIRatio, adjusted = p.config.Policy.ClampAmount(req.Income, req.DTIRatio)
	if p.metrics != nil {
		for _, rule := range adjusted {
			p.metrics.RuleDecisionsInc(string(domain), string(rule))
		}
	}

	features := req.Features()
	d, err := p.infer(domain, features, func() (Decision, error) {
		scaled, err := p.store.AmountScaler().Transform(features)
		if err != nil {
			return Decision{}, fmt.Errorf("scale amount request: %w", err)
		}
		raw, err := p.store.AmountRegressor().Predict(scaled)
		if err != nil {
			return Decision{}, fmt.Errorf("predict amount: %w", err)
		}
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			return Decision{}, fmt.Errorf("regressor returned non-finite amount %v", raw)
		}
		return PredictedAmount(wholeUnits(raw), nil), nil
	})
	if err != nil {
		return p.fail(domain, err)
	}
	d.Adjusted = adjusted
	return p.finish(start, d, features, input), nil
}

// DetectFraud maps the suspicious cluster to an alert and every other cluster
// to a normal verdict. The cluster id is returned alongside the verdict.
func (p *Predictor) DetectFraud(txn Transaction) (Decision, error) {
	start := time.Now()
	domain := DomainFraud

	if err := txn.Validate(); err != nil {
		return p.fail(domain, err)
	}

	features := txn.Features()
	d, err := p.infer(domain, features, func() (Decision, error) {
		scaled, err := p.store.FraudScaler().Transform(features)
		if err != nil {
			return Decision{}, fmt.Errorf("scale transaction: %w", err)
		}
		cluster, err := p.store.FraudClusterer().Predict(scaled)
		if err != nil {
			return Decision{}, fmt.Errorf("cluster transaction: %w", err)
		}
		return FraudFlag(cluster, p.verdict(cluster)), nil
	})
	if err != nil {
		return p.fail(domain, err)
	}
	if d.Verdict == VerdictAlert && p.metrics != nil {
		p.metrics.FraudAlertsInc()
	}
	return p.finish(start, d, features, features), nil
}

// DecideRow parses row according to domain and dispatches to the matching
// decision method.
func (p *Predictor) DecideRow(domain Domain, row map[string]string) (Decision, error) {
	switch domain {
	case DomainLoanApproval:
		app, err := ParseLoanApplication(row)
		if err != nil {
			return p.fail(domain, err)
		}
		return p.ApproveLoan(app)
	case DomainLoanAmount:
		req, err := ParseAmountRequest(row)
		if err != nil {
			return p.fail(domain, err)
		}
		return p.PredictAmount(req)
	case DomainFraud:
		txn, err := ParseTransaction(row)
		if err != nil {
			return p.fail(domain, err)
		}
		return p.DetectFraud(txn)
	}
	return Decision{}, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
}

// Store returns the artifact store the predictor was built with.
func (p *Predictor) Store() *model.Store { return p.store }

// Drift returns the input drift detector, nil when disabled.
func (p *Predictor) Drift() *DriftDetector { return p.drift }

func (p *Predictor) verdict(cluster int) Verdict {
	if cluster == p.config.SuspiciousCluster {
		return VerdictAlert
	}
	return VerdictNormal
}

// infer runs fn through the cache when one is configured. Artifacts never
// change, so a cached decision stays valid for the process lifetime.
func (p *Predictor) infer(domain Domain, features []float64, fn func() (Decision, error)) (Decision, error) {
	if p.cache == nil {
		return fn()
	}
	key := cacheKey(domain, features)
	if v, ok := p.cache.Get(key); ok {
		if p.metrics != nil {
			p.metrics.CacheHitsInc()
		}
		return v.(Decision), nil
	}
	d, err := fn()
	if err != nil {
		return d, err
	}
	p.cache.Add(key, d)
	return d, nil
}

// finish observes the model features and records input, the values the
// caller sent before any clamping.
func (p *Predictor) finish(start time.Time, d Decision, features, input []float64) Decision {
	domain := string(d.Domain)
	if p.metrics != nil {
		p.metrics.PredictionsInc(domain)
		p.metrics.LatencyObserve(domain, time.Since(start).Seconds())
	}

	p.drift.Observe(d.Domain, features)

	if p.recorder != nil {
		cols := d.Domain.Columns()
		values := make(map[string]float64, len(cols))
		for i, c := range cols {
			values[c] = input[i]
		}
		if err := p.recorder.RecordDecision(d, values); err != nil {
			log.Warn().Err(err).Str("domain", domain).Msg("failed to record decision")
		}
	}

	log.Debug().
		Str("domain", domain).
		Floats64("features", features).
		Str("decision", d.String()).
		Bool("rule_based", d.RuleBased()).
		Msg("decision made")
	return d
}

func (p *Predictor) fail(domain Domain, err error) (Decision, error) {
	if p.metrics != nil {
		p.metrics.FailuresInc(string(domain))
	}
	log.Debug().Err(err).Str("domain", string(domain)).Msg("decision failed")
	return Decision{}, err
}

func cacheKey(domain Domain, features []float64) string {
	var b strings.Builder
	b.WriteString(string(domain))
	for _, f := range features {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return b.String()
}

// wholeUnits floors negative predictions to zero, saturates at the largest
// representable amount and truncates the fraction.
func wholeUnits(v float64) int64 {
	if v <= 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return decimal.NewFromFloat(v).Truncate(0).IntPart()
}
