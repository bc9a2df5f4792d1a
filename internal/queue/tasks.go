package queue

import "time"

const TypeTranscriptionRun = "transcription:run"

const (
	transcriptionMaxRetry = 3
	transcriptionTimeout  = 10 * time.Minute
)

type TranscriptionRunPayload struct {
	JobID string `json:"job_id"`
}
