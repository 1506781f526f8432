package tiled

import (
	"fmt"
	"math"

	"github.com/samcharles93/trellis/internal/executor"
	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/tile"
)

// Loss schedules the negative log marginal likelihood of the factored
// system: per diagonal tile, Σ log l_ii + ½·α_kᵗ·y_k, summed left to right
// and normalised by N with the 2π constant folded in. The returned pointer
// holds the value once the returned token resolves.
func Loss(p *executor.Pool, factor, alpha, y *tile.Grid) (*float64, *tile.Token, error) {
	nt, mt, b, tc := factor.Shape()
	if nt != mt || b != tc {
		return nil, nil, fmt.Errorf("loss: %w: factor grid %dx%d", tile.ErrDimension, nt, mt)
	}
	if ar, _, atr, _ := alpha.Shape(); ar != nt || atr != b {
		return nil, nil, fmt.Errorf("loss: %w: alpha grid rows %d", tile.ErrDimension, ar)
	}
	if yr, _, ytr, _ := y.Shape(); yr != nt || ytr != b {
		return nil, nil, fmt.Errorf("loss: %w: y grid rows %d", tile.ErrDimension, yr)
	}

	parts := make([]float64, nt)
	deps := make([]*tile.Token, nt)
	for k := 0; k < nt; k++ {
		lkk, ak, yk := factor.Tile(k, k), alpha.Tile(k, 0), y.Tile(k, 0)
		deps[k] = p.Schedule("loglik", func(ks kernel.Kernels) error {
			v, err := ks.LogLik(lkk, ak, yk)
			if err != nil {
				return err
			}
			parts[k] = v
			return nil
		}, factor.Token(k, k), alpha.Token(k, 0), y.Token(k, 0))
	}

	n := float64(nt * b)
	out := new(float64)
	tok := p.Schedule("loss_sum", func(kernel.Kernels) error {
		sum := 0.5 * n * math.Log(2*math.Pi)
		for _, v := range parts {
			sum += v
		}
		*out = sum / n
		return nil
	}, deps...)
	return out, tok, nil
}
