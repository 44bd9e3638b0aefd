// Package transfer streams a remote file to disk while reporting throttled
// progress.
//
// Fetch does not observe task abort: the byte stream offers no mid-read hook,
// so only the install pipeline is cancellable. Context cancellation (process
// shutdown) still tears the request down.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/randomizedcoder/go-srcbuild/internal/progress"
)

const (
	// DefaultBufferSize is the read size per chunk.
	DefaultBufferSize = 32 * 1024

	// DefaultUserAgent is sent when Options.UserAgent is empty.
	DefaultUserAgent = "go-srcbuild/1.0"
)

// Sink receives progress for one transfer.
type Sink interface {
	// Progress is called at most once per throttle interval.
	Progress(progress.Snapshot)

	// Finished is called exactly once, after the last chunk, unthrottled.
	Finished(progress.Snapshot)
}

// SinkFuncs adapts two functions to Sink. Nil functions are skipped.
type SinkFuncs struct {
	OnProgress func(progress.Snapshot)
	OnFinished func(progress.Snapshot)
}

// Progress calls OnProgress.
func (s SinkFuncs) Progress(p progress.Snapshot) {
	if s.OnProgress != nil {
		s.OnProgress(p)
	}
}

// Finished calls OnFinished.
func (s SinkFuncs) Finished(p progress.Snapshot) {
	if s.OnFinished != nil {
		s.OnFinished(p)
	}
}

// Options configures a Fetcher.
type Options struct {
	// Client performs the request. Default: a client with HeaderTimeout.
	Client *http.Client

	// HeaderTimeout bounds the wait for response headers, not the body.
	// Default: 30s
	HeaderTimeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// ThrottleInterval is the minimum spacing between Progress calls.
	// Default: 50ms
	ThrottleInterval time.Duration

	// BufferSize is the chunk read size. Default: 32KB
	BufferSize int

	// Clock is used for rate and throttle timing. Default: wall clock.
	Clock progress.Clock

	// Logger receives debug diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Fetcher downloads one file at a time.
type Fetcher struct {
	client    *http.Client
	userAgent string
	throttle  time.Duration
	bufSize   int
	clock     progress.Clock
	logger    *slog.Logger
}

// NewFetcher creates a Fetcher, filling defaults for zero options.
func NewFetcher(opts Options) *Fetcher {
	if opts.HeaderTimeout <= 0 {
		opts.HeaderTimeout = 30 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: opts.HeaderTimeout,
			},
		}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.ThrottleInterval <= 0 {
		opts.ThrottleInterval = progress.DefaultThrottleInterval
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Clock == nil {
		opts.Clock = progress.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Fetcher{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		throttle:  opts.ThrottleInterval,
		bufSize:   opts.BufferSize,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// Fetch downloads url into dest, which must not already exist.
//
// On a write or read failure the partial file is left in place; removing it
// is the caller's decision.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, sink Sink) error {
	if sink == nil {
		sink = SinkFuncs{}
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return &Error{Kind: KindDestinationUnwritable, URL: url, Path: dest, Err: err}
	}
	defer out.Close()

	start := f.clock.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Kind: KindRequestFailed, URL: url, Path: dest, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := f.client.Do(req)
	if err != nil {
		return &Error{Kind: KindRequestFailed, URL: url, Path: dest, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Kind: KindRequestFailed,
			URL:  url,
			Path: dest,
			Err:  fmt.Errorf("%w: %s", ErrBadStatus, resp.Status),
		}
	}

	total := progress.Total(resp.ContentLength)
	f.logger.Debug("transfer_started",
		"url", url,
		"dest", dest,
		"content_length", resp.ContentLength,
	)

	throttle := progress.NewThrottle(f.throttle)
	throttle.Start(start)

	var transferred uint64
	snapshot := progress.Compute(0, 0, total)
	buf := make([]byte, f.bufSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return &Error{Kind: KindWriteFailed, URL: url, Path: dest, Err: err}
			}
			transferred += uint64(n)

			now := f.clock.Now()
			snapshot = progress.Compute(transferred, now.Sub(start), total)
			if throttle.Allow(now) {
				sink.Progress(snapshot)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &Error{Kind: KindReadFailed, URL: url, Path: dest, Err: readErr}
		}
	}

	if err := out.Sync(); err != nil {
		return &Error{Kind: KindWriteFailed, URL: url, Path: dest, Err: err}
	}

	sink.Finished(snapshot)

	f.logger.Debug("transfer_finished",
		"url", url,
		"dest", dest,
		"transferred", transferred,
		"duration", f.clock.Now().Sub(start).String(),
	)
	return nil
}
