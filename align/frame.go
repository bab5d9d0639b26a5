package align

import (
	"math"
	"time"
)

// Missing is the sentinel for cells with no observation at or before the
// row's date.
var Missing = math.NaN()

// IsMissing reports whether v is the missing-value sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Matrix is a dense row-major float64 grid: one row per requested date, one
// column per requested sid.
type Matrix struct {
	dates []time.Time
	sids  []int64
	data  []float64
}

func newMatrix(dates []time.Time, sids []int64) *Matrix {
	data := make([]float64, len(dates)*len(sids))
	for i := range data {
		data[i] = Missing
	}
	return &Matrix{dates: dates, sids: sids, data: data}
}

// Shape returns (rows, cols).
func (m *Matrix) Shape() (int, int) { return len(m.dates), len(m.sids) }

// Dates returns the row axis.
func (m *Matrix) Dates() []time.Time { return m.dates }

// Sids returns the column axis.
func (m *Matrix) Sids() []int64 { return m.sids }

// At returns the value at row i, column j.
func (m *Matrix) At(i, j int) float64 { return m.data[i*len(m.sids)+j] }

func (m *Matrix) set(i, j int, v float64) { m.data[i*len(m.sids)+j] = v }
