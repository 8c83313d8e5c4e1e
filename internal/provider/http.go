package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/wire"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// Default transport settings.
const (
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultInitialInterval = time.Second
	DefaultMultiplier      = 2.0
	DefaultMaxAttempts     = 3
)

// RetryPolicy bounds transport-level retries. MaxAttempts counts the first
// attempt.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxAttempts     int
}

// DefaultRetryPolicy returns base 1s, factor 2, 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
		MaxAttempts:     DefaultMaxAttempts,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultInitialInterval
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier <= 0 {
		b.Multiplier = DefaultMultiplier
	}
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// HTTPOptions configures the shared HTTP lifecycle of the wire providers.
type HTTPOptions struct {
	Client      *http.Client
	Retry       RetryPolicy
	IdleTimeout time.Duration
}

// DefaultHTTPOptions returns the default transport settings.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		Client:      &http.Client{},
		Retry:       DefaultRetryPolicy(),
		IdleTimeout: DefaultIdleTimeout,
	}
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	return o
}

// framing selects the wire decoder.
type framing int

const (
	framingSSE framing = iota
	framingNDJSON
)

// normalizer converts framed units of one vendor into canonical events.
type normalizer interface {
	// Feed consumes one framed unit. Malformed units yield no events.
	Feed(data []byte) []types.ChatEvent
	// Done reports whether the vendor signalled the natural end.
	Done() bool
	// Abort terminates an unfinished message.
	Abort(kind types.ErrorKind, message string) []types.ChatEvent
	// Close handles a clean end of body.
	Close() []types.ChatEvent
}

// httpCall describes one streaming request.
type httpCall struct {
	providerID string
	url        string
	headers    map[string]string
	body       any
	framing    framing
	norm       normalizer
}

// httpStreamer owns the request lifecycle: retries on transport failure,
// status handling, framing and the idle watchdog.
type httpStreamer struct {
	opts HTTPOptions
}

func newHTTPStreamer(opts HTTPOptions) *httpStreamer {
	return &httpStreamer{opts: opts.withDefaults()}
}

// start runs call in the background and returns its event stream.
func (h *httpStreamer) start(ctx context.Context, call httpCall) *EventStream {
	stream, out := newPipe()
	go func() {
		defer out.close()
		h.run(ctx, call, out)
	}()
	return stream
}

func (h *httpStreamer) run(ctx context.Context, call httpCall, out emitter) {
	payload, err := json.Marshal(call.body)
	if err != nil {
		out.emit(types.ErrorEvent(types.ErrProtocol, fmt.Sprintf("encode request: %v", err)))
		return
	}

	streamCtx, watchdog := wire.NewWatchdog(ctx, h.opts.IdleTimeout)
	defer watchdog.Stop()

	resp, err := h.connect(ctx, streamCtx, call, payload)
	if err != nil {
		kind, msg := classifyStreamEnd(ctx, streamCtx, err)
		out.emit(types.ErrorEvent(kind, msg))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		logging.Warn().
			Str("provider", call.providerID).
			Int("status", resp.StatusCode).
			Msg("provider returned error status")
		out.emit(statusError(resp.StatusCode, body))
		return
	}
	watchdog.Touch()

	next := frames(resp.Body, call.framing)
	for {
		data, heartbeat, err := next()
		if err == io.EOF && ctx.Err() == nil {
			out.emit(call.norm.Close()...)
			return
		}
		if err != nil {
			kind, msg := classifyStreamEnd(ctx, streamCtx, err)
			out.emit(call.norm.Abort(kind, msg)...)
			return
		}
		if heartbeat {
			continue
		}

		events := call.norm.Feed(data)
		if len(events) > 0 {
			watchdog.Touch()
		}
		if !out.emit(events...) {
			return
		}
		if call.norm.Done() {
			return
		}
	}
}

// connect sends the request, retrying transport failures. Responses of any
// status are returned to the caller and never retried.
func (h *httpStreamer) connect(ctx, streamCtx context.Context, call httpCall, payload []byte) (*http.Response, error) {
	var resp *http.Response
	attempt := 0

	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, call.url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		for k, v := range call.headers {
			req.Header.Set(k, v)
		}

		r, err := h.opts.Client.Do(req)
		if err != nil {
			if streamCtx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logging.Warn().
			Err(err).
			Str("provider", call.providerID).
			Int("attempt", attempt).
			Dur("retryIn", wait).
			Msg("provider transport failure, retrying")
	}

	if err := backoff.RetryNotify(op, h.opts.Retry.backOff(ctx), notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}
	return resp, nil
}

// frames returns an iterator over framed units of body.
func frames(body io.Reader, f framing) func() ([]byte, bool, error) {
	if f == framingNDJSON {
		lr := wire.NewLineReader(body)
		return func() ([]byte, bool, error) {
			line, err := lr.Next()
			return line, false, err
		}
	}
	sr := wire.NewSSEReader(body)
	return func() ([]byte, bool, error) {
		ev, err := sr.Next()
		if err != nil {
			return nil, false, err
		}
		if ev.Comment {
			return nil, true, nil
		}
		return []byte(ev.Data), false, nil
	}
}
