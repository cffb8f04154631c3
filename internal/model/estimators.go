package model

import (
	"fmt"
	"math"

	"bank-intel/internal/common"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogisticRegression is a linear classifier. A single coefficient row is the
// binary case: a positive decision function selects classes[1].
type LogisticRegression struct {
	features  []string
	coef      *mat.Dense
	intercept []float64
	classes   []int
}

func NewLogisticRegression(features []string, coef [][]float64, intercept []float64, classes []int) (*LogisticRegression, error) {
	rows := len(coef)
	if rows == 0 {
		return nil, fmt.Errorf("%w: logistic regression has no coefficients", ErrArtifact)
	}
	if len(intercept) != rows {
		return nil, fmt.Errorf("%w: %d coefficient rows but %d intercepts", ErrArtifact, rows, len(intercept))
	}
	switch {
	case rows == 1 && len(classes) != 2:
		return nil, fmt.Errorf("%w: binary classifier needs 2 classes, got %d", ErrArtifact, len(classes))
	case rows > 1 && len(classes) != rows:
		return nil, fmt.Errorf("%w: %d coefficient rows but %d classes", ErrArtifact, rows, len(classes))
	}

	cols := len(features)
	data := make([]float64, 0, rows*cols)
	for i, row := range coef {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: coefficient row %d has %d values, want %d", ErrArtifact, i, len(row), cols)
		}
		data = append(data, row...)
	}

	return &LogisticRegression{
		features:  copyNames(features),
		coef:      mat.NewDense(rows, cols, data),
		intercept: append([]float64(nil), intercept...),
		classes:   append([]int(nil), classes...),
	}, nil
}

func (m *LogisticRegression) Kind() string       { return common.ArtifactKindLogistic }
func (m *LogisticRegression) Features() []string { return copyNames(m.features) }

// Predict returns the predicted class label.
func (m *LogisticRegression) Predict(x []float64) (int, error) {
	rows, cols := m.coef.Dims()
	if err := checkDim(cols, len(x)); err != nil {
		return 0, err
	}

	scores := mat.NewVecDense(rows, nil)
	scores.MulVec(m.coef, mat.NewVecDense(cols, append([]float64(nil), x...)))
	raw := scores.RawVector().Data
	floats.Add(raw, m.intercept)

	if rows == 1 {
		if raw[0] > 0 {
			return m.classes[1], nil
		}
		return m.classes[0], nil
	}
	return m.classes[floats.MaxIdx(raw)], nil
}

// LinearRegression predicts coef·x + intercept.
type LinearRegression struct {
	features  []string
	coef      []float64
	intercept float64
}

func NewLinearRegression(features []string, coef []float64, intercept float64) (*LinearRegression, error) {
	if len(coef) != len(features) {
		return nil, fmt.Errorf("%w: linear regression has %d features but %d coefficients",
			ErrArtifact, len(features), len(coef))
	}
	return &LinearRegression{
		features:  copyNames(features),
		coef:      append([]float64(nil), coef...),
		intercept: intercept,
	}, nil
}

func (m *LinearRegression) Kind() string       { return common.ArtifactKindLinear }
func (m *LinearRegression) Features() []string { return copyNames(m.features) }

func (m *LinearRegression) Predict(x []float64) (float64, error) {
	if err := checkDim(len(m.coef), len(x)); err != nil {
		return 0, err
	}
	return floats.Dot(m.coef, x) + m.intercept, nil
}

// KMeans assigns a vector to its nearest cluster centre.
type KMeans struct {
	features []string
	centers  [][]float64
}

func NewKMeans(features []string, centers [][]float64) (*KMeans, error) {
	if len(centers) == 0 {
		return nil, fmt.Errorf("%w: kmeans has no cluster centres", ErrArtifact)
	}
	cp := make([][]float64, len(centers))
	for i, c := range centers {
		if len(c) != len(features) {
			return nil, fmt.Errorf("%w: cluster centre %d has %d values, want %d", ErrArtifact, i, len(c), len(features))
		}
		cp[i] = append([]float64(nil), c...)
	}
	return &KMeans{features: copyNames(features), centers: cp}, nil
}

func (m *KMeans) Kind() string       { return common.ArtifactKindKMeans }
func (m *KMeans) Features() []string { return copyNames(m.features) }

// Predict returns the index of the closest centre. Ties go to the lowest index.
func (m *KMeans) Predict(x []float64) (int, error) {
	if err := checkDim(len(m.features), len(x)); err != nil {
		return 0, err
	}
	best, bestDist := 0, math.Inf(1)
	for i, c := range m.centers {
		if d := floats.Distance(c, x, 2); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, nil
}

// Clusters returns the number of centres.
func (m *KMeans) Clusters() int { return len(m.centers) }
