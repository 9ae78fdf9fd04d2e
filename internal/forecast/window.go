package forecast

import (
	"github.com/smukkama/airquality-pipeline/internal/features"
)

// Row is one time step of model input: scaled temperature followed by the
// four cyclical time features.
type Row [5]float64

// NewRow builds a model input row.
func NewRow(scaledTemp float64, c features.Cyclical) Row {
	return Row{scaledTemp, c.DaySin, c.DayCos, c.YearSin, c.YearCos}
}

// Window is an immutable fixed-length sequence of rows, oldest first.
type Window struct {
	rows []Row
}

// NewWindow copies rows into a window.
func NewWindow(rows []Row) Window {
	return Window{rows: append([]Row(nil), rows...)}
}

func (w Window) Len() int { return len(w.rows) }

// Row returns the i-th row, oldest first.
func (w Window) Row(i int) Row { return w.rows[i] }

// Slide returns a new window with the oldest row dropped and r appended.
// The receiver is left untouched.
func (w Window) Slide(r Row) Window {
	if len(w.rows) == 0 {
		return w
	}
	rows := make([]Row, len(w.rows))
	copy(rows, w.rows[1:])
	rows[len(rows)-1] = r
	return Window{rows: rows}
}

// Matrix returns the window as model input.
func (w Window) Matrix() [][]float64 {
	out := make([][]float64, len(w.rows))
	for i, r := range w.rows {
		row := r
		out[i] = row[:]
	}
	return out
}
