package stt

import "sync"

// Stats summarises inferences since startup. The timing fields are only
// meaningful when TotalInferences is positive.
type Stats struct {
	TotalInferences   int     `json:"total_inferences"`
	AvgInferenceTime  float64 `json:"avg_inference_time"`
	MinInferenceTime  float64 `json:"min_inference_time"`
	MaxInferenceTime  float64 `json:"max_inference_time"`
	AvgRTF            float64 `json:"avg_rtf"`
	TotalAudioSeconds float64 `json:"total_audio_seconds"`
	ModelType         string  `json:"model_type"`
}

type statsRecorder struct {
	mu         sync.Mutex
	count      int
	sumTime    float64
	minTime    float64
	maxTime    float64
	sumRTF     float64
	sumSeconds float64
}

func (r *statsRecorder) record(inferenceTime, rtf, audioSeconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 || inferenceTime < r.minTime {
		r.minTime = inferenceTime
	}
	if inferenceTime > r.maxTime {
		r.maxTime = inferenceTime
	}
	r.count++
	r.sumTime += inferenceTime
	r.sumRTF += rtf
	r.sumSeconds += audioSeconds
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return Stats{}
	}
	n := float64(r.count)
	return Stats{
		TotalInferences:   r.count,
		AvgInferenceTime:  round(r.sumTime/n, 3),
		MinInferenceTime:  round(r.minTime, 3),
		MaxInferenceTime:  round(r.maxTime, 3),
		AvgRTF:            round(r.sumRTF/n, 3),
		TotalAudioSeconds: round(r.sumSeconds, 2),
	}
}
