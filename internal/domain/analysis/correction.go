package analysis

import "sort"

// CorrectionMethod selects the multiple-comparison correction applied across
// a family of p-values.
type CorrectionMethod string

const (
	// CorrectionNone leaves p-values unadjusted.
	CorrectionNone CorrectionMethod = "none"

	// CorrectionBenjaminiHochberg controls the false discovery rate. The
	// default: experiments routinely track a handful of metrics, and FDR
	// keeps power where family-wise control would not.
	CorrectionBenjaminiHochberg CorrectionMethod = "benjamini-hochberg"

	// CorrectionBonferroni controls the family-wise error rate, opt-in for
	// callers that need the stricter guarantee.
	CorrectionBonferroni CorrectionMethod = "bonferroni"
)

// IsValid reports whether the method is known.
func (m CorrectionMethod) IsValid() bool {
	switch m {
	case CorrectionNone, CorrectionBenjaminiHochberg, CorrectionBonferroni:
		return true
	}
	return false
}

// AdjustPValues returns adjusted p-values in the input order. The input is
// not modified. Adjusted values are clamped to [0, 1].
func AdjustPValues(pValues []float64, method CorrectionMethod) ([]float64, error) {
	const op = "AdjustPValues"

	if !method.IsValid() {
		return nil, invalid(op, "unknown correction method")
	}
	m := len(pValues)
	if m == 0 {
		return nil, nil
	}
	for _, p := range pValues {
		if p < 0 || p > 1 {
			return nil, invalid(op, "p-value outside [0, 1]")
		}
	}

	out := make([]float64, m)
	switch method {
	case CorrectionNone:
		copy(out, pValues)

	case CorrectionBonferroni:
		for i, p := range pValues {
			out[i] = clamp01(p * float64(m))
		}

	case CorrectionBenjaminiHochberg:
		idx := make([]int, m)
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool { return pValues[idx[a]] < pValues[idx[b]] })

		// Step-up: scale by m/rank, then enforce monotonicity from the
		// largest p down so a smaller raw p never gets a larger adjusted p.
		running := 1.0
		for rank := m; rank >= 1; rank-- {
			i := idx[rank-1]
			adj := pValues[i] * float64(m) / float64(rank)
			if adj < running {
				running = adj
			}
			out[i] = clamp01(running)
		}
	}

	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
