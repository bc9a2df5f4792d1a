package stt

import (
	"math"
	"strings"
)

// maskLogSoftmax selects the language's columns from full-vocabulary
// logprobs laid out [frames, vocab] and renormalises each frame.
func maskLogSoftmax(logprobs []float32, frames, vocab int, mask []int) [][]float32 {
	out := make([][]float32, frames)
	for t := 0; t < frames; t++ {
		row := logprobs[t*vocab : (t+1)*vocab]
		masked := make([]float32, len(mask))
		maxV := float32(math.Inf(-1))
		for i, idx := range mask {
			masked[i] = row[idx]
			if masked[i] > maxV {
				maxV = masked[i]
			}
		}
		var sum float64
		for _, v := range masked {
			sum += math.Exp(float64(v - maxV))
		}
		logSum := float32(math.Log(sum)) + maxV
		for i := range masked {
			masked[i] -= logSum
		}
		out[t] = masked
	}
	return out
}

func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

// ctcGreedy takes the best label per frame, collapses repeats and drops
// blanks.
func ctcGreedy(logits [][]float32, blank int) []int {
	var ids []int
	prev := -1
	for _, row := range logits {
		id := argmax(row)
		if id != prev && id != blank {
			ids = append(ids, id)
		}
		prev = id
	}
	return ids
}

// meanMaxProb averages, over frames, the highest softmax probability.
// It returns 0 for an empty input.
func meanMaxProb(logits [][]float32) float64 {
	if len(logits) == 0 {
		return 0
	}
	var total float64
	for _, row := range logits {
		maxV := float64(row[argmax(row)])
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v) - maxV)
		}
		total += 1 / sum
	}
	return total / float64(len(logits))
}

// detokenize joins SentencePiece pieces, turning "▁" into word breaks.
func detokenize(ids []int, vocab []string) string {
	var b strings.Builder
	for _, id := range ids {
		if id >= 0 && id < len(vocab) {
			b.WriteString(vocab[id])
		}
	}
	text := strings.ReplaceAll(b.String(), "▁", " ")
	return strings.Join(strings.Fields(text), " ")
}
