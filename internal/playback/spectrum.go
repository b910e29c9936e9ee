package playback

import "math"

// numBars is the bar count the view renders for the playback visualizer.
const numBars = 24

// computeBars runs a coarse DFT over the most recent output window and maps
// the magnitudes onto numBars heights in 0..100. Bin frequencies are spread
// across the voice band rather than the full spectrum so speech animates all
// bars instead of only the lowest few.
func computeBars(window []int16) []float64 {
	bars := make([]float64, numBars)
	if len(window) == 0 {
		return bars
	}
	n := float64(len(window))
	for b := 0; b < numBars; b++ {
		// 80Hz..6kHz spread, log-spaced.
		freq := 80.0 * math.Pow(6000.0/80.0, float64(b)/float64(numBars-1))
		k := freq / playbackRate * n
		var re, im float64
		for i, s := range window {
			phase := 2 * math.Pi * k * float64(i) / n
			v := float64(s) / math.MaxInt16
			re += v * math.Cos(phase)
			im -= v * math.Sin(phase)
		}
		mag := 2 * math.Sqrt(re*re+im*im) / n
		h := math.Min(100, mag*400)
		bars[b] = h
	}
	return bars
}
