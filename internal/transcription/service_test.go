package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nikhilbhutani/indicstt/internal/audio"
	"github.com/nikhilbhutani/indicstt/internal/cache"
	"github.com/nikhilbhutani/indicstt/internal/config"
	"github.com/nikhilbhutani/indicstt/internal/history"
	"github.com/nikhilbhutani/indicstt/internal/stt"
	"github.com/nikhilbhutani/indicstt/internal/textnorm"
)

type stubBackend struct {
	name stt.ModelType
	text string

	mu     sync.Mutex
	inputs []stt.Input
}

func (b *stubBackend) Name() stt.ModelType { return b.name }
func (b *stubBackend) Close() error        { return nil }

func (b *stubBackend) Transcribe(_ context.Context, in stt.Input) (stt.Output, error) {
	b.mu.Lock()
	b.inputs = append(b.inputs, in)
	b.mu.Unlock()
	return stt.Output{Text: b.text, Confidence: 91.5}, nil
}

func (b *stubBackend) calls() []stt.Input {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]stt.Input(nil), b.inputs...)
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(v, dest)
}

func (c *memCache) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = data
	return nil
}

type memHistory struct {
	mu      sync.Mutex
	records []*history.Record
	err     error
}

func (h *memHistory) Save(_ context.Context, rec *history.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, rec)
	return nil
}

type countingMetrics struct {
	mu        sync.Mutex
	observed  map[string]int
	cacheHits int
}

func (m *countingMetrics) ObserveTranscription(modelType, status string, _, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observed == nil {
		m.observed = map[string]int{}
	}
	m.observed[modelType+"/"+status]++
}

func (m *countingMetrics) ObserveCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

func testConfig() *config.Config {
	return &config.Config{
		STT: config.STTConfig{DefaultDecoding: "ctc"},
		Audio: config.AudioConfig{
			SampleRate:  16000,
			MaxFileSize: 1 << 20,
			MaxSeconds:  30,
			MinSeconds:  0.1,
		},
		Batch: config.BatchConfig{MaxFiles: 3, Concurrency: 2},
	}
}

func loadedEngine(t *testing.T, b *stubBackend) *stt.Engine {
	t.Helper()
	e := stt.NewEngine(stt.EngineOptions{SampleRate: 16000, MaxConcurrent: 2},
		stt.Loader{Type: b.name, Load: func(context.Context) (stt.Backend, error) { return b, nil }})
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e
}

func wavBytes(t *testing.T, seconds float64) []byte {
	t.Helper()
	n := int(seconds * 16000)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := audio.WriteWAV(f, samples, 16000); err != nil {
		t.Fatal(err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"clip.WAV":     "wav",
		"a.b.mp3":      "mp3",
		"noextension":  "wav",
		"voice.webm":   "webm",
		"dir/clip.ogg": "ogg",
		"audio.":       "",
	}
	for in, want := range tests {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranscribeValidation(t *testing.T) {
	clip := wavBytes(t, 0.5)
	b := &stubBackend{name: stt.ModelONNX, text: "x"}
	svc := NewService(testConfig(), Deps{Engine: loadedEngine(t, b)})

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"missing filename", Request{Data: clip, Language: "hi"}, ErrNoFile},
		{"bad language", Request{Filename: "a.wav", Data: clip, Language: "en"}, ErrUnsupportedLanguage},
		{"bad decoding", Request{Filename: "a.wav", Data: clip, Language: "hi", Decoding: "beam"}, ErrInvalidDecoding},
		{"language before format", Request{Filename: "a.txt", Data: clip, Language: "en"}, ErrUnsupportedLanguage},
		{"bad format", Request{Filename: "a.txt", Data: clip, Language: "hi"}, ErrUnsupportedFormat},
		{"too large", Request{Filename: "a.wav", Data: make([]byte, 2<<20), Language: "hi"}, ErrFileTooLarge},
		{"too short", Request{Filename: "a.wav", Data: wavBytes(t, 0.01), Language: "hi"}, audio.ErrTooShort},
		{"undecodable", Request{Filename: "a.wav", Data: []byte{}, Language: "hi"}, audio.ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Transcribe(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsInvalidInput(err) {
				t.Errorf("IsInvalidInput(%v) = false", err)
			}
		})
	}
	if len(b.calls()) != 0 {
		t.Errorf("backend called %d times for invalid requests", len(b.calls()))
	}
}

func TestTranscribeNotLoaded(t *testing.T) {
	e := stt.NewEngine(stt.EngineOptions{})
	svc := NewService(testConfig(), Deps{Engine: e})
	_, err := svc.Transcribe(context.Background(), Request{Filename: "a.wav", Language: "hi"})
	if !errors.Is(err, stt.ErrModelNotLoaded) {
		t.Fatalf("err = %v", err)
	}
	if IsInvalidInput(err) {
		t.Error("not-loaded classified as invalid input")
	}
}

func TestTranscribeONNX(t *testing.T) {
	b := &stubBackend{name: stt.ModelONNX, text: "नमस्ते"}
	hist := &memHistory{}
	m := &countingMetrics{}
	svc := NewService(testConfig(), Deps{Engine: loadedEngine(t, b), History: hist, Metrics: m})

	resp, err := svc.Transcribe(context.Background(), Request{
		Filename: "clip.wav", Data: wavBytes(t, 0.5), Language: "ta", Decoding: "rnnt", Principal: "key:1",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !resp.Success || resp.Text != "नमस्ते" || resp.Decoding != "rnnt" || resp.ModelType != stt.ModelONNX {
		t.Errorf("resp = %+v", resp)
	}
	if resp.AudioDuration != 0.5 || resp.Confidence != 91.5 || resp.ID == "" || resp.Cached {
		t.Errorf("resp = %+v", resp)
	}

	calls := b.calls()
	if len(calls) != 1 || calls[0].Decoding != "rnnt" || calls[0].Language != "ta" {
		t.Errorf("backend inputs = %+v", calls)
	}
	if len(hist.records) != 1 || hist.records[0].Principal != "key:1" || hist.records[0].ID.String() != resp.ID {
		t.Errorf("history = %+v", hist.records)
	}
	if m.observed["onnx/success"] != 1 {
		t.Errorf("metrics = %v", m.observed)
	}
}

func TestTranscribePipelineIgnoresDecoding(t *testing.T) {
	b := &stubBackend{name: stt.ModelTransformers, text: "hello"}
	svc := NewService(testConfig(), Deps{Engine: loadedEngine(t, b)})

	resp, err := svc.Transcribe(context.Background(), Request{
		Filename: "clip", Data: wavBytes(t, 0.5), Language: "hi", Decoding: "anything",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Decoding != "default" {
		t.Errorf("decoding = %q, want default", resp.Decoding)
	}
	if got := b.calls()[0].Decoding; got != stt.DecodingCTC {
		t.Errorf("backend decoding = %q, want ctc", got)
	}
}

func TestTranscribeNormalize(t *testing.T) {
	text := "नमस्ते, दुनिया!"
	b := &stubBackend{name: stt.ModelONNX, text: text}
	svc := NewService(testConfig(), Deps{Engine: loadedEngine(t, b)})

	resp, err := svc.Transcribe(context.Background(), Request{
		Filename: "clip.wav", Data: wavBytes(t, 0.5), Language: "hi", Normalize: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := textnorm.Normalize(text, "hi")
	if resp.NormalizedText == nil || *resp.NormalizedText != want {
		t.Errorf("normalized = %v, want %q", resp.NormalizedText, want)
	}
	if resp.Text != text {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestTranscribeCacheHit(t *testing.T) {
	text := "नमस्ते, दुनिया!"
	b := &stubBackend{name: stt.ModelONNX, text: text}
	m := &countingMetrics{}
	svc := NewService(testConfig(), Deps{Engine: loadedEngine(t, b), Cache: &memCache{}, History: &memHistory{}, Metrics: m})
	clip := wavBytes(t, 0.5)

	first, err := svc.Transcribe(context.Background(), Request{Filename: "a.wav", Data: clip, Language: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Transcribe(context.Background(), Request{Filename: "b.wav", Data: clip, Language: "hi", Normalize: true})
	if err != nil {
		t.Fatal(err)
	}

	if first.Cached || !second.Cached {
		t.Errorf("cached flags = %v, %v", first.Cached, second.Cached)
	}
	if second.Filename != "b.wav" || second.Text != first.Text || second.ID != first.ID {
		t.Errorf("second = %+v", second)
	}
	if first.NormalizedText != nil {
		t.Errorf("normalized text without normalize: %q", *first.NormalizedText)
	}
	if want := textnorm.Normalize(text, "hi"); second.NormalizedText == nil || *second.NormalizedText != want {
		t.Errorf("normalized = %v, want %q", second.NormalizedText, want)
	}
	if !first.Stored || !second.Stored {
		t.Errorf("stored flags = %v, %v", first.Stored, second.Stored)
	}
	if len(b.calls()) != 1 {
		t.Errorf("backend calls = %d, want 1", len(b.calls()))
	}
	if m.cacheHits != 1 {
		t.Errorf("cache hits = %d", m.cacheHits)
	}

	// a different decoding is a different key
	if _, err := svc.Transcribe(context.Background(), Request{Filename: "a.wav", Data: clip, Language: "hi", Decoding: "rnnt"}); err != nil {
		t.Fatal(err)
	}
	if len(b.calls()) != 2 {
		t.Errorf("backend calls = %d, want 2", len(b.calls()))
	}
}

func TestTranscribeHistoryFailureSkipsCache(t *testing.T) {
	b := &stubBackend{name: stt.ModelONNX, text: "नमस्ते"}
	hist := &memHistory{err: errors.New("insert transcription: connection reset")}
	svc := NewService(testConfig(), Deps{Engine: loadedEngine(t, b), Cache: &memCache{}, History: hist})
	clip := wavBytes(t, 0.5)

	first, err := svc.Transcribe(context.Background(), Request{Filename: "a.wav", Data: clip, Language: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Stored {
		t.Error("response marked stored after failed history save")
	}

	hist.err = nil
	second, err := svc.Transcribe(context.Background(), Request{Filename: "a.wav", Data: clip, Language: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Cached || second.ID == first.ID || !second.Stored {
		t.Errorf("second = %+v, want a fresh stored transcript", second)
	}
	if len(b.calls()) != 2 || len(hist.records) != 1 || hist.records[0].ID.String() != second.ID {
		t.Errorf("backend calls = %d, history = %+v", len(b.calls()), hist.records)
	}
}

func TestResponseJSONKeys(t *testing.T) {
	b := &stubBackend{name: stt.ModelONNX, text: ""}
	svc := NewService(testConfig(), Deps{Engine: loadedEngine(t, b)})
	clip := wavBytes(t, 0.5)

	keys := func(v any) map[string]any {
		t.Helper()
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatal(err)
		}
		return m
	}

	resp, err := svc.Transcribe(context.Background(), Request{Filename: "a.wav", Data: clip, Language: "hi", Normalize: true})
	if err != nil {
		t.Fatal(err)
	}
	got := keys(resp)
	for _, k := range []string{"text", "confidence", "inference_time", "rtf", "audio_duration", "normalized_text"} {
		if _, ok := got[k]; !ok {
			t.Errorf("response missing %q: %v", k, got)
		}
	}
	if _, ok := got["Stored"]; ok {
		t.Errorf("internal field leaked: %v", got)
	}

	batch, err := svc.Batch(context.Background(), BatchRequest{
		Language: "hi",
		Files:    []File{{Filename: "a.wav", Data: clip}, {Filename: "b.txt", Data: clip}},
	})
	if err != nil {
		t.Fatal(err)
	}
	ok := keys(batch.Results[0])
	for _, k := range []string{"filename", "status", "id", "model_type", "text", "confidence", "inference_time", "rtf", "audio_duration", "cached"} {
		if _, present := ok[k]; !present {
			t.Errorf("successful item missing %q: %v", k, ok)
		}
	}
	failed := keys(batch.Results[1])
	if len(failed) != 3 || failed["status"] != StatusFailed || failed["error"] == "" {
		t.Errorf("failed item = %v", failed)
	}
}

func TestBatch(t *testing.T) {
	b := &stubBackend{name: stt.ModelONNX, text: "ok"}
	svc := NewService(testConfig(), Deps{Engine: loadedEngine(t, b)})
	clip := wavBytes(t, 0.5)

	resp, err := svc.Batch(context.Background(), BatchRequest{
		Language: "hi",
		Files: []File{
			{Filename: "one.wav", Data: clip},
			{Filename: "notes.txt", Data: clip},
			{Filename: "", Data: clip},
		},
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if resp.Total != 3 || resp.Successful != 1 || resp.Failed != 2 {
		t.Errorf("summary = %+v", resp)
	}
	want := []struct{ filename, status string }{
		{"one.wav", StatusSuccess},
		{"notes.txt", StatusFailed},
		{"unknown", StatusFailed},
	}
	for i, w := range want {
		r := resp.Results[i]
		if r.Filename != w.filename || r.Status != w.status {
			t.Errorf("result %d = %+v, want %s/%s", i, r, w.filename, w.status)
		}
	}
	if resp.Results[2].Error != "No filename provided" {
		t.Errorf("error = %q", resp.Results[2].Error)
	}
	if resp.Results[0].Text != "ok" {
		t.Errorf("text = %q", resp.Results[0].Text)
	}
}

func TestBatchRequestErrors(t *testing.T) {
	b := &stubBackend{name: stt.ModelONNX}
	svc := NewService(testConfig(), Deps{Engine: loadedEngine(t, b)})

	tests := []struct {
		name string
		req  BatchRequest
		want error
	}{
		{"too many", BatchRequest{Language: "xx", Files: make([]File, 4)}, ErrTooManyFiles},
		{"empty", BatchRequest{Language: "hi"}, ErrNoFile},
		{"language", BatchRequest{Language: "xx", Files: make([]File, 1)}, ErrUnsupportedLanguage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Batch(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateUpload(t *testing.T) {
	svc := NewService(testConfig(), Deps{Engine: stt.NewEngine(stt.EngineOptions{})})

	ext, err := svc.ValidateUpload(Request{Filename: "talk.MP3", Data: []byte("x"), Language: "bn", Decoding: "rnnt"})
	if err != nil || ext != "mp3" {
		t.Fatalf("ValidateUpload = %q, %v", ext, err)
	}

	tests := []struct {
		req  Request
		want error
	}{
		{Request{Language: "hi"}, ErrNoFile},
		{Request{Filename: "a.wav", Language: "zz"}, ErrUnsupportedLanguage},
		{Request{Filename: "a.wav", Language: "hi", Decoding: "beam"}, ErrInvalidDecoding},
		{Request{Filename: "a.exe", Language: "hi"}, ErrUnsupportedFormat},
		{Request{Filename: "audio.", Language: "hi"}, ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		if _, err := svc.ValidateUpload(tt.req); !errors.Is(err, tt.want) {
			t.Errorf("ValidateUpload(%+v) = %v, want %v", tt.req, err, tt.want)
		}
	}
}
