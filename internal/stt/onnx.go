package stt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortOnce sync.Once
	ortErr  error
)

func initRuntime(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// encoderOutput is the encoder activation copied out of onnxruntime, laid
// out [dim, total]. Only the first frames columns are valid.
type encoderOutput struct {
	data   []float32
	dim    int
	total  int
	frames int
}

// frameVectors returns the valid frames as dim-long vectors.
func (e *encoderOutput) frameVectors() [][]float32 {
	frames := make([][]float32, e.frames)
	for t := range frames {
		f := make([]float32, e.dim)
		for d := 0; d < e.dim; d++ {
			f[d] = e.data[d*e.total+t]
		}
		frames[t] = f
	}
	return frames
}

// encoderRunner turns a waveform into encoder frames.
type encoderRunner interface {
	encode(samples []float32) (*encoderOutput, error)
}

// ctcRunner scores encoder frames with the CTC head and returns
// full-vocabulary logprobs laid out [frames, vocab].
type ctcRunner interface {
	logprobs(enc *encoderOutput) (data []float32, frames, vocab int, err error)
}

// ONNXBackend runs the exported conformer graphs with onnxruntime.
type ONNXBackend struct {
	cfg    *ModelConfig
	logger *slog.Logger

	sessions []*ort.DynamicAdvancedSession

	encoder encoderRunner
	ctc     ctcRunner

	// nil when the export has no transducer head
	pred  predictor
	joint joiner
}

// NewONNXBackend loads the graphs and config.json from dir.
func NewONNXBackend(dir, libPath string, threads int) (*ONNXBackend, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("model directory not found: %s", dir)
	}
	for _, f := range []string{preprocessorFile, encoderFile, ctcDecoderFile} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			return nil, fmt.Errorf("missing %s in %s", f, dir)
		}
	}

	cfg, err := LoadModelConfig(dir)
	if err != nil {
		return nil, err
	}

	if err := initRuntime(libPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if threads > 0 {
		if err := opts.SetIntraOpNumThreads(threads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}

	b := &ONNXBackend{cfg: cfg, logger: slog.With("component", "stt.onnx")}
	t := cfg.Tensors

	open := func(name string, in, out []string) (*ort.DynamicAdvancedSession, error) {
		path := filepath.Join(dir, name)
		b.introspect(name, path)
		s, err := ort.NewDynamicAdvancedSession(path, in, out, opts)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		b.sessions = append(b.sessions, s)
		return s, nil
	}

	pre, err := open(preprocessorFile, t.PreprocessorIn, t.PreprocessorOut)
	if err != nil {
		return nil, err
	}
	enc, err := open(encoderFile, t.EncoderIn, t.EncoderOut)
	if err != nil {
		return nil, err
	}
	ctc, err := open(ctcDecoderFile, t.CTCIn, t.CTCOut)
	if err != nil {
		return nil, err
	}
	b.encoder = &onnxEncoder{preprocessor: pre, encoder: enc}
	b.ctc = &onnxCTC{session: ctc}

	_, decErr := os.Stat(filepath.Join(dir, rnntDecoderFile))
	_, jointErr := os.Stat(filepath.Join(dir, jointFile))
	if decErr == nil && jointErr == nil {
		dec, err := open(rnntDecoderFile, t.RNNTDecoderIn, t.RNNTDecoderOut)
		if err != nil {
			return nil, err
		}
		joint, err := open(jointFile, t.JointIn, t.JointOut)
		if err != nil {
			return nil, err
		}
		b.pred = &onnxPredictor{session: dec, layers: cfg.PredictorLayers, hidden: cfg.PredictorHidden}
		b.joint = &onnxJoiner{session: joint}
	} else {
		b.logger.Info("no transducer head found, rnnt requests will use ctc")
	}

	return b, nil
}

// introspect logs graph inputs and outputs at debug level.
func (b *ONNXBackend) introspect(name, path string) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		b.logger.Debug("introspection failed", "model", name, "error", err)
		return
	}
	for _, in := range inputs {
		b.logger.Debug("model input", "model", name, "info", in.String())
	}
	for _, out := range outputs {
		b.logger.Debug("model output", "model", name, "info", out.String())
	}
}

func (b *ONNXBackend) Name() ModelType { return ModelONNX }

func (b *ONNXBackend) Close() error {
	for _, s := range b.sessions {
		s.Destroy()
	}
	b.sessions = nil
	return nil
}

func destroyAll(vals []ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Destroy()
		}
	}
}

// run executes s and lets onnxruntime allocate n outputs.
func run(s *ort.DynamicAdvancedSession, inputs []ort.Value, n int) ([]ort.Value, error) {
	outputs := make([]ort.Value, n)
	if err := s.Run(inputs, outputs); err != nil {
		destroyAll(outputs)
		return nil, err
	}
	return outputs, nil
}

func floatTensor(v ort.Value) (*ort.Tensor[float32], error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("expected float32 tensor, got %T", v)
	}
	return t, nil
}

func int64Tensor(v ort.Value) (*ort.Tensor[int64], error) {
	t, ok := v.(*ort.Tensor[int64])
	if !ok {
		return nil, fmt.Errorf("expected int64 tensor, got %T", v)
	}
	return t, nil
}

func (b *ONNXBackend) Transcribe(ctx context.Context, in Input) (Output, error) {
	mask, ok := b.cfg.LanguageMasks[in.Language]
	if !ok {
		return Output{}, fmt.Errorf("language %q not supported by model", in.Language)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	enc, err := b.encoder.encode(in.Samples)
	if err != nil {
		return Output{}, err
	}

	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	logits, ctcErr := b.ctcLogits(enc, mask)
	confidence := DefaultConfidence
	if ctcErr == nil {
		confidence = meanMaxProb(logits)
	}

	var ids []int
	switch {
	case in.Decoding == DecodingRNNT && b.pred != nil && b.joint != nil:
		ids, err = b.rnntDecode(enc, mask)
		if err != nil {
			return Output{}, fmt.Errorf("rnnt decode: %w", err)
		}
		if ctcErr != nil {
			b.logger.Warn("confidence calculation failed", "error", ctcErr)
		}
	default:
		if ctcErr != nil {
			return Output{}, fmt.Errorf("ctc decode: %w", ctcErr)
		}
		ids = ctcGreedy(logits, len(mask)-1)
	}

	return Output{
		Text:       detokenize(ids, b.cfg.Vocab[in.Language]),
		Confidence: percent(confidence),
	}, nil
}

// ctcLogits returns the language-masked, renormalised CTC logprobs.
func (b *ONNXBackend) ctcLogits(enc *encoderOutput, mask []int) ([][]float32, error) {
	data, frames, vocab, err := b.ctc.logprobs(enc)
	if err != nil {
		return nil, err
	}
	frames = min(frames, enc.frames)
	for _, idx := range mask {
		if idx >= vocab {
			return nil, fmt.Errorf("mask index %d outside vocabulary of %d", idx, vocab)
		}
	}
	return maskLogSoftmax(data, frames, vocab, mask), nil
}

func (b *ONNXBackend) rnntDecode(enc *encoderOutput, mask []int) ([]int, error) {
	size := b.cfg.PredictorLayers * b.cfg.PredictorHidden
	initial := predictorState{h: make([]float32, size), c: make([]float32, size)}
	return rnntGreedy(enc.frameVectors(), b.pred, b.joint, mask, initial, b.cfg.MaxSymbolsPerStep)
}

type onnxEncoder struct {
	preprocessor *ort.DynamicAdvancedSession
	encoder      *ort.DynamicAdvancedSession
}

func (e *onnxEncoder) encode(samples []float32) (*encoderOutput, error) {
	n := int64(len(samples))
	wave, err := ort.NewTensor(ort.NewShape(1, n), samples)
	if err != nil {
		return nil, fmt.Errorf("waveform tensor: %w", err)
	}
	defer wave.Destroy()
	waveLen, err := ort.NewTensor(ort.NewShape(1), []int64{n})
	if err != nil {
		return nil, fmt.Errorf("length tensor: %w", err)
	}
	defer waveLen.Destroy()

	feats, err := run(e.preprocessor, []ort.Value{wave, waveLen}, 2)
	if err != nil {
		return nil, fmt.Errorf("preprocessor: %w", err)
	}
	defer destroyAll(feats)

	encOut, err := run(e.encoder, feats, 2)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	defer destroyAll(encOut)

	out, err := floatTensor(encOut[0])
	if err != nil {
		return nil, fmt.Errorf("encoder output: %w", err)
	}
	lens, err := int64Tensor(encOut[1])
	if err != nil {
		return nil, fmt.Errorf("encoder lengths: %w", err)
	}

	shape := out.GetShape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("encoder output rank %d, want 3", len(shape))
	}
	total := int(shape[2])
	frames := total
	if l := lens.GetData(); len(l) > 0 && int(l[0]) < frames {
		frames = int(l[0])
	}

	return &encoderOutput{
		data:   append([]float32(nil), out.GetData()...),
		dim:    int(shape[1]),
		total:  total,
		frames: frames,
	}, nil
}

type onnxCTC struct {
	session *ort.DynamicAdvancedSession
}

func (c *onnxCTC) logprobs(enc *encoderOutput) ([]float32, int, int, error) {
	in, err := ort.NewTensor(ort.NewShape(1, int64(enc.dim), int64(enc.total)), enc.data)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encoder tensor: %w", err)
	}
	defer in.Destroy()

	outs, err := run(c.session, []ort.Value{in}, 1)
	if err != nil {
		return nil, 0, 0, err
	}
	defer destroyAll(outs)

	lp, err := floatTensor(outs[0])
	if err != nil {
		return nil, 0, 0, err
	}
	shape := lp.GetShape()
	if len(shape) != 3 {
		return nil, 0, 0, fmt.Errorf("logprobs rank %d, want 3", len(shape))
	}
	return append([]float32(nil), lp.GetData()...), int(shape[1]), int(shape[2]), nil
}

type onnxPredictor struct {
	session *ort.DynamicAdvancedSession
	layers  int
	hidden  int
}

func (p *onnxPredictor) predict(token int64, state predictorState) ([]float32, predictorState, error) {
	stateShape := ort.NewShape(int64(p.layers), 1, int64(p.hidden))

	target, err := ort.NewTensor(ort.NewShape(1, 1), []int64{token})
	if err != nil {
		return nil, state, err
	}
	defer target.Destroy()
	h, err := ort.NewTensor(stateShape, state.h)
	if err != nil {
		return nil, state, err
	}
	defer h.Destroy()
	c, err := ort.NewTensor(stateShape, state.c)
	if err != nil {
		return nil, state, err
	}
	defer c.Destroy()

	outs, err := run(p.session, []ort.Value{target, h, c}, 3)
	if err != nil {
		return nil, state, err
	}
	defer destroyAll(outs)

	var copied [3][]float32
	for i, v := range outs {
		t, err := floatTensor(v)
		if err != nil {
			return nil, state, err
		}
		copied[i] = append([]float32(nil), t.GetData()...)
	}
	return copied[0], predictorState{h: copied[1], c: copied[2]}, nil
}

type onnxJoiner struct {
	session *ort.DynamicAdvancedSession
}

func (j *onnxJoiner) join(encoderFrame, predictorOut []float32) ([]float32, error) {
	e, err := ort.NewTensor(ort.NewShape(1, int64(len(encoderFrame))), encoderFrame)
	if err != nil {
		return nil, err
	}
	defer e.Destroy()
	d, err := ort.NewTensor(ort.NewShape(1, int64(len(predictorOut))), predictorOut)
	if err != nil {
		return nil, err
	}
	defer d.Destroy()

	outs, err := run(j.session, []ort.Value{e, d}, 1)
	if err != nil {
		return nil, err
	}
	defer destroyAll(outs)

	t, err := floatTensor(outs[0])
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), t.GetData()...), nil
}
