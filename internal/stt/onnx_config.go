package stt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	preprocessorFile = "preprocessor.onnx"
	encoderFile      = "encoder.onnx"
	ctcDecoderFile   = "ctc_decoder.onnx"
	rnntDecoderFile  = "rnnt_decoder.onnx"
	jointFile        = "joint.onnx"
	modelConfigFile  = "config.json"
)

// ModelConfig is the config.json shipped next to the exported graphs.
type ModelConfig struct {
	// Vocab maps a language to its token pieces, indexed like its mask.
	Vocab map[string][]string `json:"vocab"`
	// LanguageMasks maps a language to full-vocabulary indices; the last
	// entry is the blank.
	LanguageMasks map[string][]int `json:"language_masks"`

	PredictorHidden   int         `json:"predictor_hidden"`
	PredictorLayers   int         `json:"predictor_layers"`
	MaxSymbolsPerStep int         `json:"max_symbols_per_step"`
	Tensors           TensorNames `json:"tensors"`
}

// TensorNames are the graph input and output names.
type TensorNames struct {
	PreprocessorIn  []string `json:"preprocessor_in"`
	PreprocessorOut []string `json:"preprocessor_out"`
	EncoderIn       []string `json:"encoder_in"`
	EncoderOut      []string `json:"encoder_out"`
	CTCIn           []string `json:"ctc_in"`
	CTCOut          []string `json:"ctc_out"`
	RNNTDecoderIn   []string `json:"rnnt_decoder_in"`
	RNNTDecoderOut  []string `json:"rnnt_decoder_out"`
	JointIn         []string `json:"joint_in"`
	JointOut        []string `json:"joint_out"`
}

func defaultTensorNames() TensorNames {
	return TensorNames{
		PreprocessorIn:  []string{"waveforms", "waveforms_lens"},
		PreprocessorOut: []string{"features", "features_lens"},
		EncoderIn:       []string{"audio_signal", "length"},
		EncoderOut:      []string{"outputs", "encoded_lengths"},
		CTCIn:           []string{"encoder_output"},
		CTCOut:          []string{"logprobs"},
		RNNTDecoderIn:   []string{"targets", "states_h", "states_c"},
		RNNTDecoderOut:  []string{"outputs", "states_h_out", "states_c_out"},
		JointIn:         []string{"encoder_frame", "decoder_output"},
		JointOut:        []string{"logits"},
	}
}

func fillNames(dst *[]string, def []string) {
	if len(*dst) == 0 {
		*dst = def
	}
}

// LoadModelConfig reads config.json from dir and applies defaults.
func LoadModelConfig(dir string) (*ModelConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, modelConfigFile))
	if err != nil {
		return nil, fmt.Errorf("reading model config: %w", err)
	}

	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing model config: %w", err)
	}

	if cfg.PredictorHidden <= 0 {
		cfg.PredictorHidden = 640
	}
	if cfg.PredictorLayers <= 0 {
		cfg.PredictorLayers = 1
	}
	if cfg.MaxSymbolsPerStep <= 0 {
		cfg.MaxSymbolsPerStep = defaultMaxSymbolsPerStep
	}

	def := defaultTensorNames()
	t := &cfg.Tensors
	fillNames(&t.PreprocessorIn, def.PreprocessorIn)
	fillNames(&t.PreprocessorOut, def.PreprocessorOut)
	fillNames(&t.EncoderIn, def.EncoderIn)
	fillNames(&t.EncoderOut, def.EncoderOut)
	fillNames(&t.CTCIn, def.CTCIn)
	fillNames(&t.CTCOut, def.CTCOut)
	fillNames(&t.RNNTDecoderIn, def.RNNTDecoderIn)
	fillNames(&t.RNNTDecoderOut, def.RNNTDecoderOut)
	fillNames(&t.JointIn, def.JointIn)
	fillNames(&t.JointOut, def.JointOut)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ModelConfig) validate() error {
	if len(c.LanguageMasks) == 0 {
		return fmt.Errorf("model config: no language_masks")
	}
	for lang, mask := range c.LanguageMasks {
		if len(mask) < 2 {
			return fmt.Errorf("model config: mask for %q needs at least one token and a blank", lang)
		}
		if len(c.Vocab[lang]) == 0 {
			return fmt.Errorf("model config: no vocab for %q", lang)
		}
	}
	return nil
}
