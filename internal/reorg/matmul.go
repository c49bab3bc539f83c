package reorg

import (
	"gonum.org/v1/gonum/mat"

	"github.com/npl-go/npcore/internal/coreerr"
)

// PostMult computes out = X*in (transpose=false) or out = Xᵀ*in
// (transpose=true), where X ∈ ℝ^{Rows×Cols} is the implicit matrix this
// Reorg represents, without ever materializing X. in/out are dense
// matrices whose row count matches X's (or Xᵀ's) column count.
func (r *Reorg) PostMult(in *mat.Dense, transpose bool) (*mat.Dense, error) {
	inRows, inCols := in.Dims()
	if transpose {
		if inRows != r.Rows {
			return nil, &coreerr.InvalidArgument{Op: "reorg.PostMult", Reason: "in row count must equal Rows for Xᵀ*in"}
		}
		out := mat.NewDense(r.Cols, inCols, nil)
		for _, c := range r.chunks {
			for lc := 0; lc < c.cols; lc++ {
				for j := 0; j < inCols; j++ {
					var sum float64
					for row := 0; row < c.rows; row++ {
						sum += c.at(row, lc) * in.At(row, j)
					}
					out.Set(c.colOffset+lc, j, sum)
				}
			}
		}
		return out, nil
	}

	if inRows != r.Cols {
		return nil, &coreerr.InvalidArgument{Op: "reorg.PostMult", Reason: "in row count must equal Cols for X*in"}
	}
	out := mat.NewDense(r.Rows, inCols, nil)
	for _, c := range r.chunks {
		for row := 0; row < c.rows; row++ {
			for j := 0; j < inCols; j++ {
				var sum float64
				for lc := 0; lc < c.cols; lc++ {
					sum += c.at(row, lc) * in.At(c.colOffset+lc, j)
				}
				out.Set(row, j, out.At(row, j)+sum)
			}
		}
	}
	return out, nil
}

// PreMult computes out = in*X (transpose=false) or out = in*Xᵀ
// (transpose=true).
func (r *Reorg) PreMult(in *mat.Dense, transpose bool) (*mat.Dense, error) {
	inRows, inCols := in.Dims()
	if transpose {
		if inCols != r.Cols {
			return nil, &coreerr.InvalidArgument{Op: "reorg.PreMult", Reason: "in column count must equal Cols for in*Xᵀ"}
		}
		out := mat.NewDense(inRows, r.Rows, nil)
		for _, c := range r.chunks {
			for i := 0; i < inRows; i++ {
				for row := 0; row < c.rows; row++ {
					var sum float64
					for lc := 0; lc < c.cols; lc++ {
						sum += in.At(i, c.colOffset+lc) * c.at(row, lc)
					}
					out.Set(i, row, out.At(i, row)+sum)
				}
			}
		}
		return out, nil
	}

	if inCols != r.Rows {
		return nil, &coreerr.InvalidArgument{Op: "reorg.PreMult", Reason: "in column count must equal Rows for in*X"}
	}
	out := mat.NewDense(inRows, r.Cols, nil)
	for _, c := range r.chunks {
		for i := 0; i < inRows; i++ {
			for lc := 0; lc < c.cols; lc++ {
				var sum float64
				for row := 0; row < c.rows; row++ {
					sum += in.At(i, row) * c.at(row, lc)
				}
				out.Set(i, c.colOffset+lc, sum)
			}
		}
	}
	return out, nil
}
