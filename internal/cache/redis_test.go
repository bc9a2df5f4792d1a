package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client, time.Hour), mr
}

type entry struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func TestCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", entry{Text: "नमस्ते", Confidence: 91.5}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got entry
	if err := c.Get(ctx, "k", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "नमस्ते" || got.Confidence != 91.5 {
		t.Errorf("got %+v", got)
	}

	if ttl := mr.TTL("k"); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}
	mr.FastForward(2 * time.Hour)
	if err := c.Get(ctx, "k", &got); !errors.Is(err, ErrMiss) {
		t.Errorf("after expiry err = %v, want ErrMiss", err)
	}
}

func TestCacheMissAndDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var got entry
	if err := c.Get(ctx, "absent", &got); !errors.Is(err, ErrMiss) {
		t.Errorf("err = %v, want ErrMiss", err)
	}

	c.Set(ctx, "k", entry{Text: "x"})
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := c.Get(ctx, "k", &got); !errors.Is(err, ErrMiss) {
		t.Errorf("after delete err = %v, want ErrMiss", err)
	}
}

func TestCacheUnavailable(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping succeeded against a closed server")
	}
	var got entry
	err := c.Get(context.Background(), "k", &got)
	if err == nil || errors.Is(err, ErrMiss) {
		t.Errorf("err = %v, want a connection error", err)
	}
}

func TestTranscriptKey(t *testing.T) {
	a := TranscriptKey([]byte("audio-1"), "hi", "ctc", "onnx")
	if !strings.HasPrefix(a, keyPrefix) || !strings.HasSuffix(a, ":hi:ctc:onnx") {
		t.Errorf("key = %q", a)
	}
	if a != TranscriptKey([]byte("audio-1"), "hi", "ctc", "onnx") {
		t.Error("key is not deterministic")
	}
	variants := []string{
		TranscriptKey([]byte("audio-2"), "hi", "ctc", "onnx"),
		TranscriptKey([]byte("audio-1"), "ta", "ctc", "onnx"),
		TranscriptKey([]byte("audio-1"), "hi", "rnnt", "onnx"),
		TranscriptKey([]byte("audio-1"), "hi", "ctc", "transformers"),
	}
	for _, v := range variants {
		if v == a {
			t.Errorf("key collision: %q", v)
		}
	}
}
