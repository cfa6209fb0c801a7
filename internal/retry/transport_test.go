package retry_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"page-capture/internal/retry"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func statusSequence(codes ...int) (*httptest.Server, *atomic.Int32, *[]string) {
	var calls atomic.Int32
	bodies := []string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		i := int(calls.Add(1)) - 1
		if i >= len(codes) {
			i = len(codes) - 1
		}
		w.WriteHeader(codes[i])
		_, _ = w.Write([]byte("attempt"))
	}))
	return server, &calls, &bodies
}

func newTransport(maxRetries uint) *retry.Transport {
	strategy := retry.NewExponentialBackOff(time.Millisecond, 5*time.Millisecond, maxRetries)
	return &retry.Transport{
		RetryStrategy: strategy,
		RetryOn:       retry.NewDefaultRetryOn(),
	}
}

func TestTransportRetriesUntilSuccess(t *testing.T) {
	server, calls, _ := statusSequence(http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusOK)
	defer server.Close()

	client := &http.Client{Transport: newTransport(5)}
	response, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer response.Body.Close()

	if diff := cmp.Diff(http.StatusOK, response.StatusCode); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(3), calls.Load()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTransportGivesUp(t *testing.T) {
	server, calls, _ := statusSequence(http.StatusBadGateway)
	defer server.Close()

	client := &http.Client{Transport: newTransport(2)}
	response, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)
	if diff := cmp.Diff("attempt", string(body)); diff != "" {
		t.Errorf("last response must be returned intact (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(3), calls.Load()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTransportDoesNotRetryServerError(t *testing.T) {
	server, calls, _ := statusSequence(http.StatusInternalServerError, http.StatusOK)
	defer server.Close()

	client := &http.Client{Transport: newTransport(5)}
	response, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	response.Body.Close()

	if diff := cmp.Diff(http.StatusInternalServerError, response.StatusCode); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(1), calls.Load()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTransportRewindsBody(t *testing.T) {
	server, _, bodies := statusSequence(http.StatusBadGateway, http.StatusOK)
	defer server.Close()

	client := &http.Client{Transport: newTransport(5)}
	response, err := client.Post(server.URL, "text/plain", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	response.Body.Close()

	if diff := cmp.Diff([]string{"payload", "payload"}, *bodies); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTransportRetriesConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	var attempts atomic.Int32
	transport := newTransport(2)
	transport.Base = roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		attempts.Add(1)
		return http.DefaultTransport.RoundTrip(r)
	})

	client := &http.Client{Transport: transport}
	if _, err := client.Get(url); err == nil {
		t.Fatal("expected error")
	}
	if diff := cmp.Diff(int32(3), attempts.Load()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTransportHonoursContext(t *testing.T) {
	server, _, _ := statusSequence(http.StatusBadGateway)
	defer server.Close()

	transport := &retry.Transport{
		RetryStrategy: retry.NewExponentialBackOff(time.Hour, time.Hour, 5),
		RetryOn:       retry.NewDefaultRetryOn(),
	}
	transport.RetryStrategy.(*retry.ExponentialBackOff).Entropy = func(n int64) int64 { return n }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	request, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)

	start := time.Now()
	if _, err := (&http.Client{Transport: transport}).Do(request); err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("retry wait ignored cancellation: %v", elapsed)
	}
}

func TestTransportRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := &retry.Transport{
		RetryStrategy:     retry.NewExponentialBackOff(time.Hour, time.Hour, 1),
		RetryOn:           retry.NewDefaultRetryOn(),
		RespectRetryAfter: true,
	}
	transport.RetryStrategy.(*retry.ExponentialBackOff).Entropy = func(n int64) int64 { return n }

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	request, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	response, err := (&http.Client{Transport: transport}).Do(request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	response.Body.Close()

	if diff := cmp.Diff(http.StatusOK, response.StatusCode); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
