package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventJobCompleted = "transcription.completed"
	EventJobFailed    = "transcription.failed"
)

// Delivery is the outcome of one callback.
type Delivery struct {
	ID         uuid.UUID
	JobID      uuid.UUID
	URL        string
	Event      string
	Payload    []byte
	StatusCode int
	Success    bool
	Error      string
	Attempts   int
}

// Recorder persists delivery outcomes.
type Recorder interface {
	RecordDelivery(ctx context.Context, d Delivery) error
}

type DeliveryRequest struct {
	JobID   uuid.UUID
	URL     string
	Event   string
	Payload []byte
}

type Dispatcher struct {
	secret      string
	recorder    Recorder
	httpClient  *http.Client
	deliveries  chan DeliveryRequest
	maxAttempts int
	backoff     time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewDispatcher starts the delivery loop. recorder may be nil.
func NewDispatcher(secret string, recorder Recorder) *Dispatcher {
	d := &Dispatcher{
		secret:   secret,
		recorder: recorder,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		deliveries:  make(chan DeliveryRequest, 1000),
		maxAttempts: 3,
		backoff:     time.Second,
	}
	d.wg.Add(1)
	go d.processLoop()
	return d
}

// Notify queues an event for url. Payload is marshalled to JSON.
func (d *Dispatcher) Notify(jobID uuid.UUID, url, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	d.Enqueue(DeliveryRequest{JobID: jobID, URL: url, Event: event, Payload: data})
	return nil
}

func (d *Dispatcher) Enqueue(req DeliveryRequest) {
	select {
	case d.deliveries <- req:
	default:
		slog.Warn("webhook delivery queue full, dropping", "job_id", req.JobID, "event", req.Event)
	}
}

// Close stops accepting deliveries and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.deliveries) })
	d.wg.Wait()
}

func (d *Dispatcher) processLoop() {
	defer d.wg.Done()
	for req := range d.deliveries {
		d.deliver(req)
	}
}

func (d *Dispatcher) deliver(req DeliveryRequest) {
	result := Delivery{
		ID:      uuid.New(),
		JobID:   req.JobID,
		URL:     req.URL,
		Event:   req.Event,
		Payload: req.Payload,
	}

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt*attempt) * d.backoff / 4)
		}
		result.Attempts = attempt

		status, err := d.post(req, result.ID)
		result.StatusCode = status
		if err == nil && status < 400 {
			result.Success = true
			result.Error = ""
			break
		}
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Error = fmt.Sprintf("non-success response: %d", status)
		}
		slog.Warn("webhook delivery attempt failed",
			"job_id", req.JobID, "attempt", attempt, "status", status, "error", result.Error)

		// client errors other than rate limiting will not improve on retry
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			break
		}
	}

	d.record(result)
}

func (d *Dispatcher) post(req DeliveryRequest, deliveryID uuid.UUID) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(EventHeader, req.Event)
	httpReq.Header.Set(DeliveryHeader, deliveryID.String())
	if d.secret != "" {
		httpReq.Header.Set(SignatureHeader, Sign(req.Payload, d.secret))
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Dispatcher) record(result Delivery) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.recorder.RecordDelivery(ctx, result); err != nil {
		slog.Error("failed to record webhook delivery", "error", err, "job_id", result.JobID)
	}
}
