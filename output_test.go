package vegas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeOf(t *testing.T) {
	s, err := shapeOf(ScalarOutput([]float64{1, 2, 3}), 3)
	require.NoError(t, err)
	assert.Equal(t, ShapeScalar, s.Kind)
	assert.Equal(t, 1, s.NumStreams())
	assert.Equal(t, []string{""}, s.StreamNames())

	s, err = shapeOf(VectorOutput(2, []float64{1, 2, 3, 4, 5, 6}), 3)
	require.NoError(t, err)
	assert.Equal(t, ShapeVector, s.Kind)
	assert.Equal(t, []string{"[0]", "[1]"}, s.StreamNames())

	s, err = shapeOf(MapOutput(map[string]Output{
		"z": ScalarOutput([]float64{1, 2}),
		"a": VectorOutput(3, make([]float64, 6)),
		"m": VectorOutput(1, make([]float64, 2)),
	}), 2)
	require.NoError(t, err)
	assert.Equal(t, ShapeMap, s.Kind)
	assert.Equal(t, 5, s.NumStreams())
	assert.Equal(t, []string{"a[0]", "a[1]", "a[2]", "m[0]", "z"}, s.StreamNames())
	assert.Equal(t, "map{a[3], m[1], z}", s.String())

	f, ok := s.Field("z")
	require.True(t, ok)
	assert.Equal(t, FieldShape{Name: "z", Size: 1, Offset: 4}, f)

	i, ok := s.Stream("m[0]")
	require.True(t, ok)
	assert.Equal(t, 3, i)

	_, ok = s.Stream("missing")
	assert.False(t, ok)
}

func TestShapeOfInvalid(t *testing.T) {
	cases := map[string]Output{
		"short scalar":   ScalarOutput([]float64{1}),
		"short vector":   VectorOutput(2, []float64{1, 2, 3}),
		"empty vector":   VectorOutput(0, nil),
		"empty map":      MapOutput(nil),
		"empty name":     MapOutput(map[string]Output{"": ScalarOutput([]float64{1, 2})}),
		"nested map":     MapOutput(map[string]Output{"a": MapOutput(map[string]Output{"b": ScalarOutput([]float64{1, 2})})}),
		"zero value out": {},
	}

	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := shapeOf(out, 2)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestShapeFlatten(t *testing.T) {
	out := MapOutput(map[string]Output{
		"b": ScalarOutput([]float64{10, 20}),
		"a": VectorOutput(2, []float64{1, 2, 3, 4}),
	})

	s, err := shapeOf(out, 2)
	require.NoError(t, err)

	dst := make([]float64, 6)
	require.NoError(t, s.flatten(out, 2, dst))
	assert.Equal(t, []float64{1, 2, 10, 3, 4, 20}, dst)

	bad := VectorOutput(2, []float64{1, math.Inf(1), 3, 4})
	s, err = shapeOf(bad, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, s.flatten(bad, 2, dst), ErrIntegrand)
}

func TestShapeResolver(t *testing.T) {
	var r shapeResolver

	_, ok := r.current()
	assert.False(t, ok)

	_, err := r.resolve(VectorOutput(2, make([]float64, 4)), 2)
	require.NoError(t, err)

	// Same shape, different batch size.
	_, err = r.resolve(VectorOutput(2, make([]float64, 10)), 5)
	require.NoError(t, err)

	_, err = r.resolve(VectorOutput(3, make([]float64, 6)), 2)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = r.resolve(ScalarOutput(make([]float64, 2)), 2)
	assert.ErrorIs(t, err, ErrConfiguration)

	s, ok := r.current()
	require.True(t, ok)
	assert.Equal(t, ShapeVector, s.Kind)
}

func TestAdaptStream(t *testing.T) {
	s, err := shapeOf(MapOutput(map[string]Output{
		"norm": ScalarOutput([]float64{1}),
		"mom":  VectorOutput(2, []float64{1, 2}),
	}), 1)
	require.NoError(t, err)

	i, err := adaptStream(s, "")
	require.NoError(t, err)
	assert.Equal(t, 0, i)

	i, err = adaptStream(s, "norm")
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	i, err = adaptStream(s, "mom[1]")
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	i, err = adaptStream(s, "mom")
	require.NoError(t, err)
	assert.Equal(t, 0, i)

	_, err = adaptStream(s, "nope")
	assert.ErrorIs(t, err, ErrConfiguration)
}
