package model

import (
	"fmt"

	"bank-intel/internal/common"

	"gonum.org/v1/gonum/floats"
)

// StandardScaler computes (x - mean) / scale per feature.
type StandardScaler struct {
	features []string
	mean     []float64
	scale    []float64
}

// NewStandardScaler builds a standard scaler. Zero scale entries are treated as 1,
// matching how constant features are handled at fit time.
func NewStandardScaler(features []string, mean, scale []float64) (*StandardScaler, error) {
	if len(mean) != len(features) || len(scale) != len(features) {
		return nil, fmt.Errorf("%w: standard scaler has %d features, %d means, %d scales",
			ErrArtifact, len(features), len(mean), len(scale))
	}
	s := &StandardScaler{
		features: copyNames(features),
		mean:     append([]float64(nil), mean...),
		scale:    append([]float64(nil), scale...),
	}
	for i, v := range s.scale {
		if v == 0 {
			s.scale[i] = 1
		}
	}
	return s, nil
}

func (s *StandardScaler) Kind() string       { return common.ArtifactKindStdScaler }
func (s *StandardScaler) Features() []string { return copyNames(s.features) }

// Transform returns a new scaled vector; x is left untouched.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if err := checkDim(len(s.mean), len(x)); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	floats.SubTo(out, x, s.mean)
	floats.Div(out, s.scale)
	return out, nil
}

// MinMaxScaler computes x * scale + min per feature.
type MinMaxScaler struct {
	features []string
	min      []float64
	scale    []float64
}

func NewMinMaxScaler(features []string, min, scale []float64) (*MinMaxScaler, error) {
	if len(min) != len(features) || len(scale) != len(features) {
		return nil, fmt.Errorf("%w: minmax scaler has %d features, %d mins, %d scales",
			ErrArtifact, len(features), len(min), len(scale))
	}
	return &MinMaxScaler{
		features: copyNames(features),
		min:      append([]float64(nil), min...),
		scale:    append([]float64(nil), scale...),
	}, nil
}

func (s *MinMaxScaler) Kind() string       { return common.ArtifactKindMinMaxScaler }
func (s *MinMaxScaler) Features() []string { return copyNames(s.features) }

func (s *MinMaxScaler) Transform(x []float64) ([]float64, error) {
	if err := checkDim(len(s.min), len(x)); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	floats.MulTo(out, x, s.scale)
	floats.Add(out, s.min)
	return out, nil
}
