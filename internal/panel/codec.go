package panel

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// matrixJSON is the wire form of a dense matrix.
type matrixJSON struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// recordJSON is the wire form of a Record. The split is stored as its
// holdout size only and rebuilt on decode, which keeps the invariant that
// the train and test blocks reconstruct X and Y.
type recordJSON struct {
	Kind    Kind        `json:"kind"`
	Dims    Dims        `json:"dims"`
	X       *Design     `json:"X"`
	Z       *matrixJSON `json:"Z"`
	Y       *Choices    `json:"Y"`
	B       *matrixJSON `json:"B,omitempty"`
	Gamma   []float64   `json:"Gamma,omitempty"`
	Holdout int         `json:"holdout,omitempty"`
}

func toMatrixJSON(m *mat.Dense) *matrixJSON {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return &matrixJSON{Rows: r, Cols: c, Data: data}
}

func (m *matrixJSON) dense() (*mat.Dense, error) {
	if m == nil {
		return nil, nil
	}
	if m.Rows < 1 || m.Cols < 1 || len(m.Data) != m.Rows*m.Cols {
		return nil, fmt.Errorf("%w: matrix %dx%d with %d values", ErrShapeMismatch, m.Rows, m.Cols, len(m.Data))
	}
	return mat.NewDense(m.Rows, m.Cols, m.Data), nil
}

// MarshalJSON implements json.Marshaler.
func (rec *Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Kind:  rec.Kind,
		Dims:  rec.Dims,
		X:     rec.X,
		Z:     toMatrixJSON(rec.Z),
		Y:     rec.Y,
		B:     toMatrixJSON(rec.B),
		Gamma: rec.Gamma,
	}
	if rec.Split != nil {
		out.Holdout = rec.Split.Holdout
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. The decoded record is validated.
func (rec *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	z, err := in.Z.dense()
	if err != nil {
		return fmt.Errorf("decoding Z: %w", err)
	}
	b, err := in.B.dense()
	if err != nil {
		return fmt.Errorf("decoding B: %w", err)
	}

	decoded := Record{
		Kind:  in.Kind,
		Dims:  in.Dims,
		X:     in.X,
		Z:     z,
		Y:     in.Y,
		B:     b,
		Gamma: in.Gamma,
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	if in.Holdout > 0 {
		if err := decoded.WithHoldout(in.Holdout); err != nil {
			return err
		}
	}
	*rec = decoded
	return nil
}
