// Package roomclient talks to a chess room server over REST and websocket.
package roomclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/chessroom/pkg/roomdto"
	"github.com/valyala/fasthttp"
)

// APIError is a non-2xx response from the REST service.
type APIError struct {
	Status int
	Body   roomdto.ErrorResponse
	Raw    string
}

func (e *APIError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("room api error: status=%d code=%s error=%s", e.Status, e.Body.Code, e.Body.Error)
	}
	return fmt.Sprintf("room api error: status=%d body=%s", e.Status, truncate(e.Raw, 512))
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/health", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRoom is never retried; a lost response would otherwise leave an
// orphan room behind.
func (c *Client) CreateRoom(ctx context.Context, minutes int) (*roomdto.CreateRoomResponse, error) {
	var out roomdto.CreateRoomResponse
	req := roomdto.CreateRoomRequest{TimeControlMinutes: minutes}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/rooms", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListRooms(ctx context.Context) (*roomdto.RoomList, error) {
	var out roomdto.RoomList
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/rooms", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lobby lists rooms that still accept a player.
func (c *Client) Lobby(ctx context.Context) (*roomdto.RoomList, error) {
	var out roomdto.RoomList
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/lobby", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetRoom(ctx context.Context, code string) (*roomdto.RoomDetail, error) {
	var out roomdto.RoomDetail
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/rooms/"+url.PathEscape(code), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// RoomStatus returns the status body for missing rooms too, with Exists
// false.
func (c *Client) RoomStatus(ctx context.Context, code string) (*roomdto.RoomStatus, error) {
	var out roomdto.RoomStatus
	err := c.doJSON(ctx, fasthttp.MethodGet, "/api/rooms/"+url.PathEscape(code)+"/status", nil, &out, true)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == fasthttp.StatusNotFound {
		missing := roomdto.RoomStatus{}
		_ = json.Unmarshal([]byte(apiErr.Raw), &missing)
		missing.Exists = false
		return &missing, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteRoom(ctx context.Context, code string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, "/api/rooms/"+url.PathEscape(code), nil, nil, false)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := &APIError{Status: status, Raw: string(resp.Body())}
			_ = json.Unmarshal(resp.Body(), &apiErr.Body)
			if attempt == attempts || !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
