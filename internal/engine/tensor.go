package engine

import (
	"errors"
	"fmt"
	"sort"
)

// ElementType names the element type of a tensor.
type ElementType string

// Element type constants.
const (
	U8  ElementType = "u8"
	U16 ElementType = "u16"
	U32 ElementType = "u32"
	I8  ElementType = "i8"
	I16 ElementType = "i16"
	I32 ElementType = "i32"
	I64 ElementType = "i64"
	F32 ElementType = "f32"
	F64 ElementType = "f64"
)

var validElementTypes = map[ElementType]bool{
	U8: true, U16: true, U32: true,
	I8: true, I16: true, I32: true, I64: true,
	F32: true, F64: true,
}

// Valid reports whether t is a known element type.
func (t ElementType) Valid() bool {
	return validElementTypes[t]
}

// ErrShapeMismatch is returned when a tensor's data does not fill its shape.
var ErrShapeMismatch = errors.New("data length does not match shape")

// Shape is the dimensions of a tensor.
type Shape []int

// Size returns the number of elements a tensor of this shape holds.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Tensor is a dense numeric buffer. Values are held as float32 regardless of
// Type; Type records the element type the model declared for the data.
type Tensor struct {
	Type  ElementType `json:"type"`
	Shape Shape       `json:"shape"`
	Data  []float32   `json:"data"`
}

// NewTensor creates a tensor after checking that data fills shape.
func NewTensor(t ElementType, shape Shape, data []float32) (*Tensor, error) {
	tn := &Tensor{Type: t, Shape: shape, Data: data}
	if err := tn.Validate(); err != nil {
		return nil, err
	}
	return tn, nil
}

// Validate checks the element type and that the data length matches a
// non-empty shape.
func (t *Tensor) Validate() error {
	if !t.Type.Valid() {
		return fmt.Errorf("unknown element type %q", t.Type)
	}
	if len(t.Shape) == 0 {
		return fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("invalid dimension %d in shape %v", d, t.Shape)
		}
	}
	if t.Shape.Size() != len(t.Data) {
		return fmt.Errorf("%w: shape %v holds %d elements, got %d", ErrShapeMismatch, t.Shape, t.Shape.Size(), len(t.Data))
	}
	return nil
}

// Prediction is one scored class from a classifier output row.
type Prediction struct {
	ClassID     int     `json:"class_id"`
	Probability float32 `json:"probability"`
}

// TopK returns the k highest values of the first row of t, best first. Ties
// keep the lower class id first.
func (t *Tensor) TopK(k int) []Prediction {
	row := t.Data
	if len(t.Shape) > 1 {
		row = t.Data[:t.Shape[len(t.Shape)-1]]
	}

	preds := make([]Prediction, len(row))
	for i, v := range row {
		preds[i] = Prediction{ClassID: i, Probability: v}
	}
	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Probability > preds[j].Probability
	})
	if k > 0 && k < len(preds) {
		preds = preds[:k]
	}
	return preds
}

// ArgMax returns the class id of the highest value in the first row of t, or
// -1 for an empty tensor.
func (t *Tensor) ArgMax() int {
	top := t.TopK(1)
	if len(top) == 0 {
		return -1
	}
	return top[0].ClassID
}

// TensorSet maps port names to tensors.
type TensorSet map[string]*Tensor

// Names returns the port names in the set, sorted.
func (s TensorSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the tensor for name. When the set holds a single tensor and
// name does not match, that tensor is returned, mirroring positional binding
// of single-input models.
func (s TensorSet) Lookup(name string) (*Tensor, bool) {
	if t, ok := s[name]; ok {
		return t, true
	}
	if len(s) == 1 {
		for _, t := range s {
			return t, true
		}
	}
	return nil, false
}
