// Package audio turns uploaded audio files into mono float32 waveforms at the
// model sample rate.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
)

// ErrDecode is returned when the payload cannot be turned into samples.
var ErrDecode = errors.New("audio: decode failed")

const wavFormatPCM = 1

// Decoder converts encoded audio to mono float32 samples in [-1, 1].
type Decoder struct {
	SampleRate int
	FFmpegPath string
}

func NewDecoder(sampleRate int, ffmpegPath string) *Decoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Decoder{SampleRate: sampleRate, FFmpegPath: ffmpegPath}
}

// Decode reads data in the container named by ext (wav, mp3, ogg, ...).
// PCM WAV is handled in-process; everything else goes through ffmpeg.
func (d *Decoder) Decode(ctx context.Context, data []byte, ext string) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "wav" {
		samples, err := d.decodeWAV(data)
		if err == nil {
			return samples, nil
		}
		slog.Debug("native wav decode failed, using ffmpeg", "error", err)
	}

	return d.decodeFFmpeg(ctx, data, ext)
}

func (d *Decoder) decodeWAV(data []byte) ([]float32, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrDecode)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: unsupported wav format %d", ErrDecode, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("%w: wav has no channels", ErrDecode)
	}

	mono := downmix(buf.Data, channels, int(dec.BitDepth))
	return Resample(mono, int(dec.SampleRate), d.SampleRate), nil
}

// downmix averages interleaved integer PCM frames to a single channel.
func downmix(data []int, channels, bitDepth int) []float32 {
	scale := float64(int64(1) << (bitDepth - 1))
	offset := 0.0
	if bitDepth == 8 {
		// 8-bit wav is unsigned
		offset = scale
	}

	frames := len(data) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += (float64(data[f*channels+c]) - offset) / scale
		}
		out[f] = float32(sum / float64(channels))
	}
	return out
}

// decodeFFmpeg transcodes through a temp file; some containers (m4a) need a
// seekable input.
func (d *Decoder) decodeFFmpeg(ctx context.Context, data []byte, ext string) ([]float32, error) {
	pattern := "stt-*"
	if ext != "" {
		pattern += "." + ext
	}
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-i", tmp.Name(),
		"-ac", "1",
		"-ar", strconv.Itoa(d.SampleRate),
		"-f", "f32le",
		"pipe:1",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("ffmpeg not available at %q: %w", d.FFmpegPath, err)
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrDecode, err, strings.TrimSpace(stderr.String()))
	}

	return bytesToFloat32(stdout.Bytes()), nil
}

// bytesToFloat32 converts little-endian float32 PCM to a slice.
func bytesToFloat32(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}
