// Package model loads the pre-trained artifacts used by the decision service.
//
// Every model is paired with the scaler it was fit with. Artifacts are exported
// from the training environment as JSON envelopes carrying the fitted parameters
// and the ordered feature names the artifact expects. Once loaded they are never
// mutated, so a Store may be shared by any number of goroutines.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"bank-intel/internal/common"
)

var (
	// ErrArtifact marks a missing, unreadable or inconsistent artifact.
	ErrArtifact = errors.New("invalid model artifact")
	// ErrDimension is returned when a feature vector does not match an artifact's width.
	ErrDimension = errors.New("feature dimension mismatch")
)

// Artifact is the part every loaded scaler and model has in common.
type Artifact interface {
	Kind() string
	Features() []string
}

// Scaler normalizes raw features into the range its paired model was trained on.
type Scaler interface {
	Artifact
	Transform(x []float64) ([]float64, error)
}

// Classifier predicts a class label.
type Classifier interface {
	Artifact
	Predict(x []float64) (int, error)
}

// Regressor predicts a continuous value.
type Regressor interface {
	Artifact
	Predict(x []float64) (float64, error)
}

// Clusterer assigns a cluster id.
type Clusterer interface {
	Artifact
	Predict(x []float64) (int, error)
}

// ArtifactInfo describes a loaded artifact file.
type ArtifactInfo struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Version  string    `json:"version,omitempty"`
	Path     string    `json:"path,omitempty"`
	Features []string  `json:"features"`
	Modified time.Time `json:"modified,omitempty"`
}

// header holds the envelope fields shared by all artifact kinds.
type header struct {
	Kind         string   `json:"kind"`
	Version      string   `json:"version"`
	FeatureNames []string `json:"feature_names"`
}

type scalerParams struct {
	Mean  []float64 `json:"mean,omitempty"`
	Scale []float64 `json:"scale"`
	Min   []float64 `json:"min,omitempty"`
}

type logisticParams struct {
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`
	Classes   []int       `json:"classes"`
}

type linearParams struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

type kmeansParams struct {
	ClusterCenters [][]float64 `json:"cluster_centers"`
}

// decodeArtifact parses a JSON envelope into a concrete artifact.
func decodeArtifact(data []byte) (Artifact, header, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, h, fmt.Errorf("%w: decode envelope: %v", ErrArtifact, err)
	}
	if len(h.FeatureNames) == 0 {
		return nil, h, fmt.Errorf("%w: %s artifact has no feature_names", ErrArtifact, h.Kind)
	}

	var (
		a   Artifact
		err error
	)
	switch h.Kind {
	case common.ArtifactKindStdScaler:
		var p scalerParams
		if err = json.Unmarshal(data, &p); err == nil {
			a, err = NewStandardScaler(h.FeatureNames, p.Mean, p.Scale)
		}
	case common.ArtifactKindMinMaxScaler:
		var p scalerParams
		if err = json.Unmarshal(data, &p); err == nil {
			a, err = NewMinMaxScaler(h.FeatureNames, p.Min, p.Scale)
		}
	case common.ArtifactKindLogistic:
		var p logisticParams
		if err = json.Unmarshal(data, &p); err == nil {
			a, err = NewLogisticRegression(h.FeatureNames, p.Coef, p.Intercept, p.Classes)
		}
	case common.ArtifactKindLinear:
		var p linearParams
		if err = json.Unmarshal(data, &p); err == nil {
			a, err = NewLinearRegression(h.FeatureNames, p.Coef, p.Intercept)
		}
	case common.ArtifactKindKMeans:
		var p kmeansParams
		if err = json.Unmarshal(data, &p); err == nil {
			a, err = NewKMeans(h.FeatureNames, p.ClusterCenters)
		}
	default:
		return nil, h, fmt.Errorf("%w: unknown kind %q", ErrArtifact, h.Kind)
	}
	if err != nil {
		if errors.Is(err, ErrArtifact) {
			return nil, h, err
		}
		return nil, h, fmt.Errorf("%w: %s: %v", ErrArtifact, h.Kind, err)
	}
	return a, h, nil
}

// readArtifact loads one artifact file and records its metadata.
func readArtifact(name, path string) (Artifact, ArtifactInfo, error) {
	info := ArtifactInfo{Name: name, Path: path}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, info, fmt.Errorf("%w: %s: %v", ErrArtifact, name, err)
	}
	info.Modified = stat.ModTime()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, info, fmt.Errorf("%w: %s: %v", ErrArtifact, name, err)
	}

	a, h, err := decodeArtifact(data)
	if err != nil {
		return nil, info, fmt.Errorf("%s: %w", name, err)
	}
	info.Kind = h.Kind
	info.Version = h.Version
	info.Features = h.FeatureNames
	return a, info, nil
}

func checkDim(want, got int) error {
	if want != got {
		return fmt.Errorf("%w: expected %d features, got %d", ErrDimension, want, got)
	}
	return nil
}

func copyNames(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}
