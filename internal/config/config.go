package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ServiceName    = "AI4Bharat STT API"
	ServiceVersion = "1.0.0"
)

// SupportedLanguages lists the language codes the acoustic model has masks for.
var SupportedLanguages = []string{
	"hi", // Hindi
	"bn", // Bengali
	"ta", // Tamil
	"te", // Telugu
	"mr", // Marathi
	"gu", // Gujarati
	"kn", // Kannada
	"ml", // Malayalam
	"pa", // Punjabi
	"or", // Odia
	"as", // Assamese
}

var DecodingModes = []string{"ctc", "rnnt"}

var AllowedExtensions = []string{"wav", "mp3", "ogg", "flac", "m4a", "mpeg", "webm"}

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	STT      STTConfig
	Audio    AudioConfig
	Batch    BatchConfig
	Storage  StorageConfig
	Webhook  WebhookConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type AuthConfig struct {
	APIKeys      []string
	APIKeyHeader string
	JWTSecret    string
}

// Enabled reports whether any credential is configured.
func (a AuthConfig) Enabled() bool {
	return len(a.APIKeys) > 0 || a.JWTSecret != ""
}

type STTConfig struct {
	ModelDir         string
	ONNXEnabled      bool
	ONNXRuntimeLib   string // path to libonnxruntime; empty uses the loader default
	ONNXThreads      int
	PipelineBaseURL  string // OpenAI-compatible ASR endpoint serving the pretrained model
	PipelineAPIKey   string
	PipelineModel    string
	DefaultDecoding  string
	MaxConcurrent    int
	InferenceTimeout time.Duration
}

type AudioConfig struct {
	SampleRate  int
	MaxFileSize int64
	MaxSeconds  float64
	MinSeconds  float64
	FFmpegPath  string
}

type BatchConfig struct {
	MaxFiles    int
	Concurrency int
}

type StorageConfig struct {
	Backend     string // "local" or "supabase"
	LocalDir    string
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

type WebhookConfig struct {
	Secret string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	rps, err := getEnvFloat("RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	burst, err := getEnvInt("RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cacheTTL, err := getEnvDuration("CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	onnxEnabled, err := getEnvBool("ONNX_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("invalid ONNX_ENABLED: %w", err)
	}

	onnxThreads, err := getEnvInt("ONNX_THREADS", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid ONNX_THREADS: %w", err)
	}

	maxConcurrent, err := getEnvInt("MAX_CONCURRENT_INFERENCES", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_INFERENCES: %w", err)
	}

	inferenceTimeout, err := getEnvDuration("INFERENCE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid INFERENCE_TIMEOUT: %w", err)
	}

	sampleRate, err := getEnvInt("SAMPLE_RATE", 16000)
	if err != nil {
		return nil, fmt.Errorf("invalid SAMPLE_RATE: %w", err)
	}

	maxFileSize, err := getEnvInt("MAX_FILE_SIZE", 50*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_FILE_SIZE: %w", err)
	}

	maxSeconds, err := getEnvFloat("MAX_AUDIO_SECONDS", 300)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_AUDIO_SECONDS: %w", err)
	}

	minSeconds, err := getEnvFloat("MIN_AUDIO_SECONDS", 0.1)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_AUDIO_SECONDS: %w", err)
	}

	batchMax, err := getEnvInt("BATCH_MAX_FILES", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_MAX_FILES: %w", err)
	}

	batchConcurrency, err := getEnvInt("BATCH_CONCURRENCY", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_CONCURRENCY: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"*"}),
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			CacheTTL: cacheTTL,
		},
		Auth: AuthConfig{
			APIKeys:      getEnvList("API_KEYS", nil),
			APIKeyHeader: getEnv("API_KEY_HEADER", "X-API-Key"),
			JWTSecret:    getEnv("JWT_SECRET", ""),
		},
		STT: STTConfig{
			ModelDir:         getEnv("MODEL_DIR", "indic_conformer_model"),
			ONNXEnabled:      onnxEnabled,
			ONNXRuntimeLib:   getEnv("ONNX_RUNTIME_LIB", ""),
			ONNXThreads:      onnxThreads,
			PipelineBaseURL:  getEnv("PIPELINE_BASE_URL", ""),
			PipelineAPIKey:   getEnv("PIPELINE_API_KEY", ""),
			PipelineModel:    getEnv("PIPELINE_MODEL", "ai4bharat/indic-conformer-600m-multilingual"),
			DefaultDecoding:  strings.ToLower(getEnv("DEFAULT_DECODING", "ctc")),
			MaxConcurrent:    maxConcurrent,
			InferenceTimeout: inferenceTimeout,
		},
		Audio: AudioConfig{
			SampleRate:  sampleRate,
			MaxFileSize: int64(maxFileSize),
			MaxSeconds:  maxSeconds,
			MinSeconds:  minSeconds,
			FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		},
		Batch: BatchConfig{
			MaxFiles:    batchMax,
			Concurrency: batchConcurrency,
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
			LocalDir:    getEnv("STORAGE_LOCAL_DIR", "data/audio"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "audio"),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxFileSizeMB is the upload limit as reported to clients.
func (c *Config) MaxFileSizeMB() float64 {
	return c.Audio.MaxFileSizeMB()
}

func (a AudioConfig) MaxFileSizeMB() float64 {
	return float64(a.MaxFileSize) / 1024 / 1024
}

func (c *Config) Validate() error {
	var problems []string

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL must be debug, info, warn, or error, got %q", c.Log.Level))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be json or text, got %q", c.Log.Format))
	}

	if !IsDecodingMode(c.STT.DefaultDecoding) {
		problems = append(problems, fmt.Sprintf("DEFAULT_DECODING must be ctc or rnnt, got %q", c.STT.DefaultDecoding))
	}
	if c.STT.MaxConcurrent <= 0 {
		problems = append(problems, "MAX_CONCURRENT_INFERENCES must be > 0")
	}
	if c.Audio.SampleRate <= 0 {
		problems = append(problems, "SAMPLE_RATE must be > 0")
	}
	if c.Audio.MaxFileSize <= 0 {
		problems = append(problems, "MAX_FILE_SIZE must be > 0")
	}
	if c.Audio.MaxSeconds <= c.Audio.MinSeconds {
		problems = append(problems, "MAX_AUDIO_SECONDS must be greater than MIN_AUDIO_SECONDS")
	}
	if c.Batch.MaxFiles <= 0 {
		problems = append(problems, "BATCH_MAX_FILES must be > 0")
	}
	if c.Batch.Concurrency <= 0 {
		problems = append(problems, "BATCH_CONCURRENCY must be > 0")
	}

	switch c.Storage.Backend {
	case "local":
	case "supabase":
		if c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "" {
			problems = append(problems, "SUPABASE_URL and SUPABASE_SERVICE_KEY are required for supabase storage")
		}
	default:
		problems = append(problems, fmt.Sprintf("STORAGE_BACKEND must be local or supabase, got %q", c.Storage.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func IsSupportedLanguage(lang string) bool {
	return contains(SupportedLanguages, lang)
}

func IsDecodingMode(mode string) bool {
	return contains(DecodingModes, mode)
}

func IsAllowedExtension(ext string) bool {
	return contains(AllowedExtensions, ext)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
