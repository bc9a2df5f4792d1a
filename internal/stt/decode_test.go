package stt

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestMaskLogSoftmaxNormalises(t *testing.T) {
	// two frames over a five-token vocabulary
	logprobs := []float32{
		-1, -2, -3, -4, -5,
		-5, -4, -3, -2, -1,
	}
	mask := []int{0, 2, 4}
	got := maskLogSoftmax(logprobs, 2, 5, mask)

	if len(got) != 2 || len(got[0]) != 3 {
		t.Fatalf("shape = %dx%d, want 2x3", len(got), len(got[0]))
	}
	for i, row := range got {
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v))
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("frame %d probabilities sum to %f", i, sum)
		}
	}
	if argmax(got[0]) != 0 || argmax(got[1]) != 2 {
		t.Errorf("argmax = %d,%d, want 0,2", argmax(got[0]), argmax(got[1]))
	}
}

func TestCTCGreedy(t *testing.T) {
	const blank = 3
	frames := func(ids ...int) [][]float32 {
		out := make([][]float32, len(ids))
		for i, id := range ids {
			row := []float32{-9, -9, -9, -9}
			row[id] = 0
			out[i] = row
		}
		return out
	}

	tests := []struct {
		name string
		ids  []int
		want []int
	}{
		{"collapses repeats", []int{0, 0, 1, 1, 1}, []int{0, 1}},
		{"drops blanks", []int{blank, 0, blank, blank, 2}, []int{0, 2}},
		{"blank separates repeats", []int{1, blank, 1}, []int{1, 1}},
		{"all blank", []int{blank, blank}, nil},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ctcGreedy(frames(tt.ids...), blank)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ctcGreedy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeanMaxProb(t *testing.T) {
	if got := meanMaxProb(nil); got != 0 {
		t.Errorf("empty = %f, want 0", got)
	}

	ln := func(p float64) float32 { return float32(math.Log(p)) }
	logits := [][]float32{
		{ln(0.9), ln(0.05), ln(0.05)},
		{ln(0.2), ln(0.7), ln(0.1)},
	}
	got := meanMaxProb(logits)
	if math.Abs(got-0.8) > 1e-5 {
		t.Errorf("meanMaxProb = %f, want 0.8", got)
	}
	if pct := percent(got); pct != 80 {
		t.Errorf("percent = %v, want 80", pct)
	}
}

func TestDetokenize(t *testing.T) {
	vocab := []string{"▁नम", "स्ते", "▁दुनिया", "▁"}
	tests := []struct {
		ids  []int
		want string
	}{
		{[]int{0, 1, 2}, "नमस्ते दुनिया"},
		{[]int{3, 0, 1, 3}, "नमस्ते"},
		{[]int{0, 99}, "नम"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := detokenize(tt.ids, vocab); got != tt.want {
			t.Errorf("detokenize(%v) = %q, want %q", tt.ids, got, tt.want)
		}
	}
}

// scriptedJoiner favours one full-vocab id per call from a fixed script. The
// blank (last id) always scores above unscripted tokens.
type scriptedJoiner struct {
	vocab  int
	script []int
	calls  int
	err    error
}

func (j *scriptedJoiner) join(_, _ []float32) ([]float32, error) {
	if j.err != nil {
		return nil, j.err
	}
	logits := make([]float32, j.vocab)
	for i := range logits {
		logits[i] = -10
	}
	logits[j.vocab-1] = -5
	id := j.vocab - 1
	if j.calls < len(j.script) {
		id = j.script[j.calls]
	}
	j.calls++
	logits[id] = 10
	return logits, nil
}

type countingPredictor struct {
	tokens []int64
}

func (p *countingPredictor) predict(token int64, state predictorState) ([]float32, predictorState, error) {
	p.tokens = append(p.tokens, token)
	return []float32{float32(token)}, state, nil
}

func TestRNNTGreedy(t *testing.T) {
	// full vocabulary of 8; the language uses ids 1, 3, 5 and blank 7
	mask := []int{1, 3, 5, 7}
	frames := make([][]float32, 3)

	// frame 0 emits 3, frame 1 is silent, frame 2 emits 1 then 5
	joint := &scriptedJoiner{vocab: 8, script: []int{3, 7, 7, 1, 5, 7}}
	pred := &countingPredictor{}

	ids, err := rnntGreedy(frames, pred, joint, mask, predictorState{}, 10)
	if err != nil {
		t.Fatalf("rnntGreedy: %v", err)
	}
	if want := []int{1, 0, 2}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if want := []int64{7, 3, 1, 5}; !reflect.DeepEqual(pred.tokens, want) {
		t.Errorf("predictor tokens = %v, want %v", pred.tokens, want)
	}
}

func TestRNNTGreedyIgnoresTokensOutsideMask(t *testing.T) {
	mask := []int{1, 3, 7}
	// id 2 scores highest but is not part of the language; blank wins among masked
	joint := &scriptedJoiner{vocab: 8, script: []int{2}}
	ids, err := rnntGreedy(make([][]float32, 1), &countingPredictor{}, joint, mask, predictorState{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none", ids)
	}
}

func TestRNNTGreedyMaxSymbols(t *testing.T) {
	mask := []int{0, 1}
	script := make([]int, 100)
	joint := &scriptedJoiner{vocab: 2, script: script}
	ids, err := rnntGreedy(make([][]float32, 2), &countingPredictor{}, joint, mask, predictorState{}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 6 {
		t.Errorf("emitted %d symbols, want 6 (3 per frame)", len(ids))
	}
}

func TestRNNTGreedyJointError(t *testing.T) {
	boom := errors.New("boom")
	_, err := rnntGreedy(make([][]float32, 1), &countingPredictor{}, &scriptedJoiner{vocab: 2, err: boom}, []int{0, 1}, predictorState{}, 3)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}
