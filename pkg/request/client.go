package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"glidetrack/pkg/logging"
	"glidetrack/pkg/tracker"
	"glidetrack/pkg/version"
)

var (
	defaultUserAgent = fmt.Sprintf("GlideTrack/%s", version.Version)
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Response is a completed HTTP exchange. Non-2xx statuses are not errors;
// callers decide what a status means.
type Response struct {
	StatusCode int
	Status     string // status text without the code
	Body       []byte
}

// Client serializes requests per host and tracks their outcome.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker

	// Queues per host
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

// job represents a queued request.
type job struct {
	req      *http.Request
	headers  map[string]string
	size     int
	respChan chan jobResult
}

type jobResult struct {
	resp *Response
	err  error
}

// New creates a new Client. Request deadlines come from the caller's context.
func New(t *tracker.Tracker) *Client {
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		tracker:    t,
		queues:     make(map[string]chan job),
	}
}

// Tracker returns the per-host counters.
func (c *Client) Tracker() *tracker.Tracker { return c.tracker }

// Post performs a POST request with queuing.
func (c *Client) Post(ctx context.Context, u string, body []byte, contentType string) (*Response, error) {
	return c.PostWithHeaders(ctx, u, body, map[string]string{"Content-Type": contentType})
}

// PostWithHeaders performs a POST request with custom headers and queuing.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) (*Response, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	host := parsedURL.Host

	var rdr io.Reader = http.NoBody
	if len(body) > 0 {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	j := job{req: req, headers: headers, size: len(body), respChan: respChan}

	c.dispatch(host, j)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.resp, res.err
	}
}

// dispatch sends the job to the host's queue, creating the queue/worker if needed.
func (c *Client) dispatch(host string, j job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[host]
	if !ok {
		// Create new queue and start worker
		q = make(chan job, 16)
		c.queues[host] = q
		go c.worker(host, q)
	}

	// We block here if the queue is full, effectively throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		// Caller gave up before we could even enqueue
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific host sequentially.
func (c *Client) worker(host string, q <-chan job) {
	for j := range q {
		// Check context before processing
		if j.req.Context().Err() != nil {
			logging.Requests().Warn("Job dropped from queue (context expired)", "host", host, "error", j.req.Context().Err())
			j.respChan <- jobResult{err: j.req.Context().Err()}
			continue
		}

		// Apply User-Agent (Default if not provided)
		uaMatch := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaMatch = true
			}
		}
		if !uaMatch {
			j.req.Header.Set("User-Agent", defaultUserAgent)
		}

		c.tracker.TrackRequest(host, j.size)
		resp, err := c.execute(j.req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.tracker.TrackSuccess(host, len(resp.Body))
		} else {
			c.tracker.TrackFailure(host)
		}

		j.respChan <- jobResult{resp: resp, err: err}
	}
}

func (c *Client) execute(req *http.Request) (*Response, error) {
	start := time.Now()
	logging.Requests().Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Check if the error is a context cancellation from OUR side
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		logging.Requests().Warn("Request failed", "url", req.URL, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}

	logging.Requests().Info("Network Response",
		"path", req.URL.Path, "status", resp.StatusCode, "bytes", len(body), "duration", time.Since(start))

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Body:       body,
	}, nil
}
