package vegas

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

//////
// Const, vars, types.
//////

// ShapeKind tags the layout of an integrand's output.
type ShapeKind int

const (
	// ShapeScalar is one number per point.
	ShapeScalar ShapeKind = iota

	// ShapeVector is a fixed-length sequence of numbers per point.
	ShapeVector

	// ShapeMap is a set of named scalar or vector fields per point.
	ShapeMap
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeScalar:
		return "scalar"
	case ShapeVector:
		return "vector"
	case ShapeMap:
		return "map"
	default:
		return fmt.Sprintf("ShapeKind(%d)", int(k))
	}
}

// Output is the result of one integrand call. Build it with ScalarOutput,
// VectorOutput or MapOutput.
type Output struct {
	kind   ShapeKind
	size   int
	values []float64
	fields map[string]Output
}

// FieldShape describes one field of a Shape.
type FieldShape struct {
	// Name is empty for scalar and vector integrands.
	Name string

	// Size is the number of elements (1 for scalars).
	Size int

	// Vector is true when the field is a sequence, even of length 1.
	Vector bool

	// Offset is the index of the field's first stream.
	Offset int
}

// Shape is the flattened layout of an integrand's output: an ordered list of
// fields, each contributing Size consecutive streams. Map fields are ordered
// by name.
type Shape struct {
	Kind   ShapeKind
	Fields []FieldShape
}

// shapeResolver fixes the shape on the first batch and checks it afterwards.
type shapeResolver struct {
	mu    sync.Mutex
	shape *Shape
}

//////
// Factory.
//////

// ScalarOutput returns one value per point.
func ScalarOutput(values []float64) Output {
	return Output{kind: ShapeScalar, size: 1, values: values}
}

// VectorOutput returns size values per point, row-major: element k of point
// i is values[i*size+k].
func VectorOutput(size int, values []float64) Output {
	return Output{kind: ShapeVector, size: size, values: values}
}

// MapOutput returns named fields, each built with ScalarOutput or
// VectorOutput.
func MapOutput(fields map[string]Output) Output {
	return Output{kind: ShapeMap, fields: fields}
}

//////
// Methods.
//////

// NumStreams returns the total number of flattened streams.
func (s Shape) NumStreams() int {
	n := 0
	for _, f := range s.Fields {
		n += f.Size
	}

	return n
}

// StreamNames returns the name of every stream: "" for a scalar integrand,
// "[k]" for vector elements, "name" and "name[k]" for map fields.
func (s Shape) StreamNames() []string {
	names := make([]string, 0, s.NumStreams())

	for _, f := range s.Fields {
		if !f.Vector {
			names = append(names, f.Name)

			continue
		}

		for k := 0; k < f.Size; k++ {
			names = append(names, fmt.Sprintf("%s[%d]", f.Name, k))
		}
	}

	return names
}

// Field returns the field with the given name.
func (s Shape) Field(name string) (FieldShape, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}

	return FieldShape{}, false
}

// Stream returns the index of the named stream.
func (s Shape) Stream(name string) (int, bool) {
	for i, n := range s.StreamNames() {
		if n == name {
			return i, true
		}
	}

	return 0, false
}

func (s Shape) String() string {
	parts := make([]string, 0, len(s.Fields))

	for _, f := range s.Fields {
		if f.Vector {
			parts = append(parts, fmt.Sprintf("%s[%d]", f.Name, f.Size))
		} else {
			parts = append(parts, f.Name)
		}
	}

	return fmt.Sprintf("%s{%s}", s.Kind, strings.Join(parts, ", "))
}

func (s Shape) equal(o Shape) bool {
	if s.Kind != o.Kind || len(s.Fields) != len(o.Fields) {
		return false
	}

	for i := range s.Fields {
		if s.Fields[i] != o.Fields[i] {
			return false
		}
	}

	return true
}

// shapeOf derives the layout of out for a batch of n points.
func shapeOf(out Output, n int) (Shape, error) {
	switch out.kind {
	case ShapeScalar, ShapeVector:
		f, err := fieldOf("", out, n)
		if err != nil {
			return Shape{}, err
		}

		return Shape{Kind: out.kind, Fields: []FieldShape{f}}, nil
	case ShapeMap:
		if len(out.fields) == 0 {
			return Shape{}, configError("map output has no fields")
		}

		names := make([]string, 0, len(out.fields))
		for name := range out.fields {
			names = append(names, name)
		}

		sort.Strings(names)

		s := Shape{Kind: ShapeMap, Fields: make([]FieldShape, 0, len(names))}
		offset := 0

		for _, name := range names {
			if name == "" {
				return Shape{}, configError("map output field names must not be empty")
			}

			f, err := fieldOf(name, out.fields[name], n)
			if err != nil {
				return Shape{}, err
			}

			f.Offset = offset
			offset += f.Size
			s.Fields = append(s.Fields, f)
		}

		return s, nil
	default:
		return Shape{}, configError("unknown output kind %v", out.kind)
	}
}

func fieldOf(name string, out Output, n int) (FieldShape, error) {
	label := name
	if label == "" {
		label = "output"
	}

	switch out.kind {
	case ShapeScalar:
		if len(out.values) != n {
			return FieldShape{}, configError("%s: got %d values for %d points", label, len(out.values), n)
		}

		return FieldShape{Name: name, Size: 1}, nil
	case ShapeVector:
		if out.size < 1 {
			return FieldShape{}, configError("%s: vector size must be positive, got %d", label, out.size)
		}

		if len(out.values) != n*out.size {
			return FieldShape{}, configError("%s: got %d values for %d points of size %d", label, len(out.values), n, out.size)
		}

		return FieldShape{Name: name, Size: out.size, Vector: true}, nil
	default:
		return FieldShape{}, configError("%s: map fields must be scalar or vector outputs, got %v", label, out.kind)
	}
}

// flatten copies out into dst, row-major with one row of NumStreams values
// per point. Non-finite values are integrand errors.
func (s Shape) flatten(out Output, n int, dst []float64) error {
	ns := s.NumStreams()

	for _, f := range s.Fields {
		src := out
		if s.Kind == ShapeMap {
			src = out.fields[f.Name]
		}

		for i := 0; i < n; i++ {
			row := dst[i*ns+f.Offset : i*ns+f.Offset+f.Size]
			copy(row, src.values[i*f.Size:(i+1)*f.Size])

			for k, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return integrandError(nil, "non-finite value %g in stream %d of point %d", v, f.Offset+k, i)
				}
			}
		}
	}

	return nil
}

// resolve returns the shape of out, fixing it on first use. A later output
// with a different shape is a configuration error.
func (r *shapeResolver) resolve(out Output, n int) (Shape, error) {
	s, err := shapeOf(out, n)
	if err != nil {
		return Shape{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shape == nil {
		r.shape = &s

		return s, nil
	}

	if !r.shape.equal(s) {
		return Shape{}, configError("integrand output shape changed from %s to %s", r.shape, s)
	}

	return s, nil
}

// current returns the resolved shape, if any.
func (r *shapeResolver) current() (Shape, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shape == nil {
		return Shape{}, false
	}

	return *r.shape, true
}
