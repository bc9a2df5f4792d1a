package audio

// Resample converts mono samples between rates using linear interpolation.
// It returns the input unchanged when the rates match.
func Resample(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(in) == 0 {
		return in
	}

	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	out := make([]float32, outLen)
	ratio := float64(fromRate) / float64(toRate)

	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx] + frac*(in[idx+1]-in[idx])
	}
	return out
}
