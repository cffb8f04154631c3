package model

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"bank-intel/internal/common"

	"github.com/rs/zerolog/log"
)

// Artifacts groups the six artifacts the decision service depends on.
type Artifacts struct {
	LoanClassifier  Classifier
	LoanScaler      Scaler
	AmountRegressor Regressor
	AmountScaler    Scaler
	FraudClusterer  Clusterer
	FraudScaler     Scaler
}

// Store is the read-only handle over the loaded artifacts.
type Store struct {
	a    Artifacts
	info map[string]ArtifactInfo
}

// NewStore validates that every artifact is present and that each model agrees
// with its scaler on the feature schema.
func NewStore(a Artifacts) (*Store, error) {
	if a.LoanClassifier == nil || a.LoanScaler == nil {
		return nil, fmt.Errorf("%w: loan approval pair is incomplete", ErrArtifact)
	}
	if a.AmountRegressor == nil || a.AmountScaler == nil {
		return nil, fmt.Errorf("%w: loan amount pair is incomplete", ErrArtifact)
	}
	if a.FraudClusterer == nil || a.FraudScaler == nil {
		return nil, fmt.Errorf("%w: fraud pair is incomplete", ErrArtifact)
	}

	pairs := []struct {
		name   string
		scaler Scaler
		model  Artifact
	}{
		{"loan approval", a.LoanScaler, a.LoanClassifier},
		{"loan amount", a.AmountScaler, a.AmountRegressor},
		{"fraud", a.FraudScaler, a.FraudClusterer},
	}
	for _, p := range pairs {
		if err := SameSchema(p.scaler.Features(), p.model.Features()); err != nil {
			return nil, fmt.Errorf("%w: %s scaler and model disagree: %v", ErrArtifact, p.name, err)
		}
	}

	s := &Store{a: a, info: make(map[string]ArtifactInfo)}
	for name, art := range map[string]Artifact{
		common.ArtifactLoanClassifier:  a.LoanClassifier,
		common.ArtifactLoanScaler:      a.LoanScaler,
		common.ArtifactAmountRegressor: a.AmountRegressor,
		common.ArtifactAmountScaler:    a.AmountScaler,
		common.ArtifactFraudClusterer:  a.FraudClusterer,
		common.ArtifactFraudScaler:     a.FraudScaler,
	} {
		s.info[name] = ArtifactInfo{Name: name, Kind: art.Kind(), Features: art.Features()}
	}
	return s, nil
}

// LoadStore reads the six artifacts from dir. Any missing or corrupt file fails
// the whole load; there is no partial store.
func LoadStore(dir string) (*Store, error) {
	var (
		a     Artifacts
		infos = make(map[string]ArtifactInfo, 6)
	)

	load := func(name string) (Artifact, error) {
		path := filepath.Join(dir, name+common.ArtifactFileExtension)
		art, info, err := readArtifact(name, path)
		if err != nil {
			return nil, err
		}
		infos[name] = info
		return art, nil
	}

	var ok bool
	for _, step := range []struct {
		name   string
		assign func(Artifact) bool
	}{
		{common.ArtifactLoanClassifier, func(x Artifact) bool { a.LoanClassifier, ok = x.(Classifier); return ok }},
		{common.ArtifactLoanScaler, func(x Artifact) bool { a.LoanScaler, ok = x.(Scaler); return ok }},
		{common.ArtifactAmountRegressor, func(x Artifact) bool { a.AmountRegressor, ok = x.(Regressor); return ok }},
		{common.ArtifactAmountScaler, func(x Artifact) bool { a.AmountScaler, ok = x.(Scaler); return ok }},
		{common.ArtifactFraudClusterer, func(x Artifact) bool { a.FraudClusterer, ok = x.(Clusterer); return ok }},
		{common.ArtifactFraudScaler, func(x Artifact) bool { a.FraudScaler, ok = x.(Scaler); return ok }},
	} {
		art, err := load(step.name)
		if err != nil {
			return nil, err
		}
		if !step.assign(art) {
			return nil, fmt.Errorf("%w: %s: kind %q cannot serve this role", ErrArtifact, step.name, art.Kind())
		}
	}

	s, err := NewStore(a)
	if err != nil {
		return nil, err
	}
	s.info = infos

	log.Info().Str("model_dir", dir).Int("artifacts", len(infos)).Msg("model artifacts loaded")
	return s, nil
}

func (s *Store) LoanClassifier() Classifier { return s.a.LoanClassifier }
func (s *Store) LoanScaler() Scaler         { return s.a.LoanScaler }
func (s *Store) AmountRegressor() Regressor { return s.a.AmountRegressor }
func (s *Store) AmountScaler() Scaler       { return s.a.AmountScaler }
func (s *Store) FraudClusterer() Clusterer  { return s.a.FraudClusterer }
func (s *Store) FraudScaler() Scaler        { return s.a.FraudScaler }

// Info lists artifact metadata sorted by name.
func (s *Store) Info() []ArtifactInfo {
	out := make([]ArtifactInfo, 0, len(s.info))
	for _, i := range s.info {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ages reports, per artifact, how long ago its file was written. Artifacts built
// in memory have no age and are skipped.
func (s *Store) Ages(now time.Time) map[string]time.Duration {
	ages := make(map[string]time.Duration, len(s.info))
	for name, i := range s.info {
		if i.Modified.IsZero() {
			continue
		}
		ages[name] = now.Sub(i.Modified)
	}
	return ages
}

// SameSchema reports whether two ordered feature lists are identical.
func SameSchema(want, got []string) error {
	if len(want) != len(got) {
		return fmt.Errorf("expected %d features %v, got %d %v", len(want), want, len(got), got)
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("feature %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	return nil
}
