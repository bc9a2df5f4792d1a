package stt

import "fmt"

const defaultMaxSymbolsPerStep = 10

// predictorState is the recurrent state of the prediction network.
type predictorState struct {
	h, c []float32
}

// predictor runs the prediction network for one emitted token.
type predictor interface {
	predict(token int64, state predictorState) (out []float32, next predictorState, err error)
}

// joiner combines one encoder frame with the predictor output and returns
// full-vocabulary logits.
type joiner interface {
	join(encoderFrame, predictorOut []float32) ([]float32, error)
}

// rnntGreedy runs greedy transducer decoding over frames, restricted to the
// language mask. The last mask entry is the blank. Returned ids index into
// the mask.
func rnntGreedy(frames [][]float32, pred predictor, joint joiner, mask []int, initial predictorState, maxSymbols int) ([]int, error) {
	if len(mask) == 0 {
		return nil, fmt.Errorf("empty language mask")
	}
	if maxSymbols <= 0 {
		maxSymbols = defaultMaxSymbolsPerStep
	}
	blank := len(mask) - 1

	predOut, state, err := pred.predict(int64(mask[blank]), initial)
	if err != nil {
		return nil, fmt.Errorf("initial predictor run: %w", err)
	}

	var ids []int
	for t, frame := range frames {
		for sym := 0; sym < maxSymbols; sym++ {
			logits, err := joint.join(frame, predOut)
			if err != nil {
				return nil, fmt.Errorf("joint at frame %d: %w", t, err)
			}

			best, bestV := -1, float32(0)
			for i, idx := range mask {
				if idx >= len(logits) {
					return nil, fmt.Errorf("mask index %d outside joint output of %d", idx, len(logits))
				}
				if best < 0 || logits[idx] > bestV {
					best, bestV = i, logits[idx]
				}
			}
			if best == blank {
				break
			}

			ids = append(ids, best)
			predOut, state, err = pred.predict(int64(mask[best]), state)
			if err != nil {
				return nil, fmt.Errorf("predictor at frame %d: %w", t, err)
			}
		}
	}
	return ids, nil
}
