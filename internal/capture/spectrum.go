package capture

import "math"

const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Spectrum writes the magnitude spectrum of samples into dst, one bin per
// element, scaled to [0, 1] between -100 and -30 dBFS. samples should hold
// 2*len(dst) values in [-1, 1]; a Hann window is applied first.
func Spectrum(samples []float32, dst []float32) {
	bins := len(dst)
	n := len(samples)
	if bins == 0 {
		return
	}
	if n == 0 {
		clear(dst)
		return
	}

	windowed := make([]float64, n)
	for i, s := range samples {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
		windowed[i] = float64(s) * w
	}

	for k := range bins {
		var re, im float64
		for i, x := range windowed {
			angle := 2 * math.Pi * float64(k) * float64(i) / float64(n)
			re += x * math.Cos(angle)
			im -= x * math.Sin(angle)
		}
		mag := math.Hypot(re, im) / float64(n)
		db := minDecibels
		if mag > 0 {
			db = 20 * math.Log10(mag)
		}
		v := (db - minDecibels) / (maxDecibels - minDecibels)
		dst[k] = float32(min(max(v, 0), 1))
	}
}

// Level is the mean of bins.
func Level(bins []float32) float32 {
	if len(bins) == 0 {
		return 0
	}
	var sum float32
	for _, b := range bins {
		sum += b
	}
	return sum / float32(len(bins))
}

// Downsample averages bins into n groups.
func Downsample(bins []float32, n int) []float32 {
	if n <= 0 || len(bins) == 0 {
		return nil
	}
	if n >= len(bins) {
		return append([]float32(nil), bins...)
	}
	out := make([]float32, n)
	per := len(bins) / n
	for i := range out {
		lo := i * per
		hi := lo + per
		if i == n-1 {
			hi = len(bins)
		}
		out[i] = Level(bins[lo:hi])
	}
	return out
}
