package search

import (
	"math"

	"github.com/gwlsn/firefly/internal/jobs"
)

// predict returns the next CRF to test, per spec.md §4.10:
//
//   - no prior iteration (lastCRF nil) -> 0; the caller (predictNext)
//     substitutes the configured initial CRF,
//   - >=2 iterations -> a least-squares linear fit of VMAF over CRF,
//     solved for the midpoint of [vmafMin, vmafMax] and clamped to the
//     current window; a degenerate fit falls back to the midpoint,
//   - otherwise -> the integer midpoint of the current window.
//
// Grounded on _examples/original_source/app/encoder.py _predict_next_crf
// (numpy.polyfit degree-1 fit, generalized here to a closed-form
// least-squares solve since no numpy equivalent is wired).
func predict(iterations []jobs.Iteration, lastCRF *int, vmafMin, vmafMax float64, crfRangeMin, crfRangeMax int) int {
	if lastCRF == nil {
		return 0 // caller substitutes config.initial_crf in this case
	}

	mid := (crfRangeMin + crfRangeMax) / 2

	if len(iterations) >= 2 {
		if crf, ok := linearFitCRF(iterations, (vmafMin+vmafMax)/2); ok {
			if crf < crfRangeMin {
				crf = crfRangeMin
			}
			if crf > crfRangeMax {
				crf = crfRangeMax
			}
			return crf
		}
	}
	return mid
}

// linearFitCRF fits VMAF = a*CRF + b by least squares over every
// iteration's (crf, vmaf) pair and solves for the CRF at which the fit
// crosses targetVMAF. It reports false if the fit is degenerate
// (near-zero slope, or fewer than two distinct CRF values).
func linearFitCRF(iterations []jobs.Iteration, targetVMAF float64) (int, bool) {
	n := float64(len(iterations))
	var sumX, sumY, sumXY, sumXX float64
	for _, it := range iterations {
		x := float64(it.EncoderSettings.CRF)
		y := it.ExecutionData.SourceToEncodedVMAFPercent
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-9 {
		return 0, false
	}

	a := (n*sumXY - sumX*sumY) / denom
	b := (sumY - a*sumX) / n

	if math.Abs(a) < 1e-9 {
		return 0, false
	}

	crf := (targetVMAF - b) / a
	return int(math.Round(crf)), true
}
