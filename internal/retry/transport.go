package retry

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/xerrors"
)

// Transport retries a round trip according to RetryOn, waiting between
// attempts as RetryStrategy says. Requests with a body are retried only when
// the body can be rewound through GetBody.
type Transport struct {
	Base          http.RoundTripper
	RetryStrategy Strategy
	RetryOn       *On
	// RespectRetryAfter lets a Retry-After header in seconds replace the
	// strategy's delay, capped at MaxRetryAfter when that is set.
	RespectRetryAfter bool
	MaxRetryAfter     time.Duration
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	ctx := request.Context()
	for attempt := uint(0); ; attempt++ {
		response, err := t.base().RoundTrip(request)

		retry := false
		if t.RetryOn != nil {
			if err != nil {
				retry = t.RetryOn.CheckError(err)
			} else {
				retry = t.RetryOn.CheckResponse(response)
			}
		}
		if !retry {
			return response, err
		}

		delay, ok := t.retryStrategy().Delay(attempt)
		if !ok {
			return response, err
		}
		if response != nil {
			if after, ok := t.retryAfter(response); ok {
				delay = after
			}
		}

		next, rewindErr := rewind(request)
		if rewindErr != nil {
			return response, err
		}
		if response != nil {
			// drain so the connection can be reused
			_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 1<<16))
			response.Body.Close()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		request = next
	}
}

func (t *Transport) retryAfter(response *http.Response) (time.Duration, bool) {
	if !t.RespectRetryAfter {
		return 0, false
	}
	seconds, err := strconv.Atoi(response.Header.Get("Retry-After"))
	if err != nil || seconds < 0 {
		return 0, false
	}
	after := time.Duration(seconds) * time.Second
	if t.MaxRetryAfter > 0 && after > t.MaxRetryAfter {
		after = t.MaxRetryAfter
	}
	return after, true
}

func rewind(request *http.Request) (*http.Request, error) {
	if request.Body == nil || request.Body == http.NoBody {
		return request, nil
	}
	if request.GetBody == nil {
		return nil, xerrors.New("request body cannot be rewound")
	}
	body, err := request.GetBody()
	if err != nil {
		return nil, xerrors.Errorf("failed to rewind request body: %w", err)
	}
	next := request.Clone(request.Context())
	next.Body = body
	return next, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) retryStrategy() Strategy {
	if t.RetryStrategy != nil {
		return t.RetryStrategy
	}
	return NewNever()
}
