package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardScaler_Transform(t *testing.T) {
	s, err := NewStandardScaler([]string{"a", "b", "c"}, []float64{10, 0, 5}, []float64{2, 0, 5})
	require.NoError(t, err)

	x := []float64{14, 3, 0}
	out, err := s.Transform(x)
	require.NoError(t, err)

	// zero scale is treated as 1
	assert.InDeltaSlice(t, []float64{2, 3, -1}, out, 1e-12)
	assert.Equal(t, []float64{14, 3, 0}, x, "input must not be modified")

	_, err = s.Transform([]float64{1, 2})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestMinMaxScaler_Transform(t *testing.T) {
	s, err := NewMinMaxScaler([]string{"a", "b"}, []float64{-1, 0}, []float64{0.5, 0.1})
	require.NoError(t, err)

	out, err := s.Transform([]float64{4, 20})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2}, out, 1e-12)

	_, err = s.Transform([]float64{4, 20, 1})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestLogisticRegression_Binary(t *testing.T) {
	m, err := NewLogisticRegression([]string{"a", "b"}, [][]float64{{1, -1}}, []float64{0}, []int{0, 1})
	require.NoError(t, err)

	label, err := m.Predict([]float64{2, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, label)

	label, err = m.Predict([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 0, label)

	// decision function exactly 0 is the negative class
	label, err = m.Predict([]float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0, label)

	_, err = m.Predict([]float64{1})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestLogisticRegression_Multiclass(t *testing.T) {
	m, err := NewLogisticRegression(
		[]string{"a", "b"},
		[][]float64{{1, 0}, {0, 1}, {-1, -1}},
		[]float64{0, 0, 0.5},
		[]int{7, 8, 9},
	)
	require.NoError(t, err)

	label, err := m.Predict([]float64{3, 1})
	require.NoError(t, err)
	assert.Equal(t, 7, label)

	label, err = m.Predict([]float64{1, 3})
	require.NoError(t, err)
	assert.Equal(t, 8, label)

	label, err = m.Predict([]float64{-2, -2})
	require.NoError(t, err)
	assert.Equal(t, 9, label)
}

func TestLogisticRegression_InvalidParameters(t *testing.T) {
	_, err := NewLogisticRegression([]string{"a"}, nil, nil, []int{0, 1})
	assert.ErrorIs(t, err, ErrArtifact)

	_, err = NewLogisticRegression([]string{"a"}, [][]float64{{1}}, []float64{0, 1}, []int{0, 1})
	assert.ErrorIs(t, err, ErrArtifact)

	_, err = NewLogisticRegression([]string{"a", "b"}, [][]float64{{1}}, []float64{0}, []int{0, 1})
	assert.ErrorIs(t, err, ErrArtifact)

	_, err = NewLogisticRegression([]string{"a"}, [][]float64{{1}, {2}}, []float64{0, 0}, []int{0, 1, 2})
	assert.ErrorIs(t, err, ErrArtifact)
}

func TestLinearRegression_Predict(t *testing.T) {
	m, err := NewLinearRegression([]string{"a", "b"}, []float64{2, -3}, 10)
	require.NoError(t, err)

	v, err := m.Predict([]float64{1, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, v, 1e-12)

	_, err = m.Predict(nil)
	assert.ErrorIs(t, err, ErrDimension)

	_, err = NewLinearRegression([]string{"a"}, []float64{1, 2}, 0)
	assert.ErrorIs(t, err, ErrArtifact)
}

func TestKMeans_Predict(t *testing.T) {
	m, err := NewKMeans([]string{"a", "b"}, [][]float64{{0, 0}, {10, 10}, {0, 10}})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Clusters())

	cases := []struct {
		x    []float64
		want int
	}{
		{[]float64{1, 1}, 0},
		{[]float64{9, 8}, 1},
		{[]float64{-1, 12}, 2},
		// equidistant from 0 and 2; lowest id wins
		{[]float64{0, 5}, 0},
	}
	for _, c := range cases {
		got, err := m.Predict(c.x)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "point %v", c.x)
	}

	_, err = m.Predict([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimension)

	_, err = NewKMeans([]string{"a", "b"}, [][]float64{{1}})
	assert.ErrorIs(t, err, ErrArtifact)
}

func TestArtifacts_FeaturesAreCopies(t *testing.T) {
	m, err := NewLinearRegression([]string{"a", "b"}, []float64{1, 1}, 0)
	require.NoError(t, err)

	names := m.Features()
	names[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, m.Features())
}
