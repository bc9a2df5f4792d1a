package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memRecorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (m *memRecorder) RecordDelivery(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	return nil
}

func (m *memRecorder) all() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.deliveries...)
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"job_id":"1"}`)
	sig := Sign(payload, "secret")
	if len(sig) != len("sha256=")+64 || sig[:7] != "sha256=" {
		t.Fatalf("signature = %q", sig)
	}
	if !Verify(payload, "secret", sig) {
		t.Error("Verify rejected a valid signature")
	}
	if Verify(payload, "other", sig) {
		t.Error("Verify accepted the wrong secret")
	}
	if Verify([]byte(`{"job_id":"2"}`), "secret", sig) {
		t.Error("Verify accepted a tampered payload")
	}
}

func TestDispatcherDelivers(t *testing.T) {
	type received struct {
		body, sig, event string
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{string(body), r.Header.Get(SignatureHeader), r.Header.Get(EventHeader)}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec := &memRecorder{}
	d := NewDispatcher("whsec", rec)
	jobID := uuid.New()
	if err := d.Notify(jobID, srv.URL, EventJobCompleted, map[string]string{"status": "completed"}); err != nil {
		t.Fatal(err)
	}
	d.Close()

	select {
	case r := <-got:
		if r.body != `{"status":"completed"}` {
			t.Errorf("body = %s", r.body)
		}
		if !Verify([]byte(r.body), "whsec", r.sig) {
			t.Errorf("bad signature %q", r.sig)
		}
		if r.event != EventJobCompleted {
			t.Errorf("event = %q", r.event)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	ds := rec.all()
	if len(ds) != 1 || !ds[0].Success || ds[0].JobID != jobID || ds[0].Attempts != 1 {
		t.Errorf("recorded = %+v", ds)
	}
}

func TestDispatcherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := &memRecorder{}
	d := NewDispatcher("", rec)
	d.backoff = time.Millisecond
	d.Notify(uuid.New(), srv.URL, EventJobFailed, map[string]string{})
	d.Close()

	ds := rec.all()
	if len(ds) != 1 || !ds[0].Success || ds[0].Attempts != 3 {
		t.Errorf("recorded = %+v", ds)
	}
}

func TestDispatcherStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	rec := &memRecorder{}
	d := NewDispatcher("", rec)
	d.backoff = time.Millisecond
	d.Notify(uuid.New(), srv.URL, EventJobFailed, map[string]string{})
	d.Close()

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	ds := rec.all()
	if len(ds) != 1 || ds[0].Success || ds[0].StatusCode != http.StatusGone {
		t.Errorf("recorded = %+v", ds)
	}
}
