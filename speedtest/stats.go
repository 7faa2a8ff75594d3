package speedtest

import (
	"math"
	"sort"
	"time"
)

const nDeciles = 10

func getMean(series []float64) float64 {
	ret := float64(0)
	nSamplesF64 := float64(len(series))

	for _, element := range series {
		ret += element / nSamplesF64
	}

	return ret
}

func getSquareMean(series []float64) float64 {
	ret := float64(0)
	nSamplesF64 := float64(len(series))

	for _, element := range series {
		ret += element * element / nSamplesF64
	}

	return ret
}

func getDeciles(series []float64) []float64 {
	sorted := append([]float64{}, series...)
	sort.Float64s(sorted)

	ret := []float64{}
	lastIndexF64 := float64(len(sorted) - 1)
	for iter := 1; iter < nDeciles; iter += 1 {
		ret = append(ret, sorted[int(math.Round(float64(iter)*lastIndexF64/nDeciles))])
	}

	return ret
}

// getF64Stats returns nil for an empty series.
func getF64Stats(series []float64) *Stats {
	if len(series) == 0 {
		return nil
	}

	ret := &Stats{
		Min:      math.Inf(1),
		Max:      math.Inf(-1),
		MinIndex: 0,
		MaxIndex: 0,
	}

	for index, element := range series {
		if element < ret.Min {
			ret.Min = element
			ret.MinIndex = index
		}
		if element > ret.Max {
			ret.Max = element
			ret.MaxIndex = index
		}
	}

	ret.NSamples = len(series)
	ret.Mean = getMean(series)
	// rounding may push the difference slightly below zero for constant series
	ret.StdDev = math.Sqrt(math.Max(0, getSquareMean(series)-(ret.Mean*ret.Mean)))
	ret.StdErr = ret.StdDev / math.Sqrt(float64(ret.NSamples))
	ret.Deciles = getDeciles(series)

	return ret
}

func getDurationMSStats(durations []time.Duration) *Stats {
	durationSamples := []float64{}

	for _, duration := range durations {
		durationMSF64 := float64(duration.Microseconds()) / 1000
		durationSamples = append(durationSamples, durationMSF64)
	}

	return getF64Stats(durationSamples)
}

// Reduce turns the samples of one transfer into a single speed in Mbps. With three or
// more samples the single slowest and fastest are dropped and the rest averaged, which
// discounts slow-start and transient stalls or bursts. Shorter runs fall back to the
// whole-transfer average.
func Reduce(samples []Sample, finalCumulativeBytes int64, finalElapsed time.Duration) float64 {
	return reduceTrimmed(samples, finalCumulativeBytes, finalElapsed, defaultOutlierTrimCount)
}

func reduceTrimmed(samples []Sample, finalCumulativeBytes int64, finalElapsed time.Duration, trim int) float64 {
	if trim < 1 {
		trim = defaultOutlierTrimCount
	}
	if len(samples) < 2*trim+1 {
		return mbps(finalCumulativeBytes, finalElapsed)
	}

	speeds := make([]float64, 0, len(samples))
	for _, sample := range samples {
		speeds = append(speeds, sample.Mbps)
	}
	sort.Float64s(speeds)

	return getMean(speeds[trim : len(speeds)-trim])
}
