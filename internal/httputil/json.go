package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrStatus marks a response that arrived with a non-200 status.
	ErrStatus = errors.New("unexpected http status")
	// ErrNoData marks a 200 response whose body is empty or the literal "None".
	ErrNoData = errors.New("no data")
)

// maxBody caps how much of a response is read. Telemetry payloads are small.
const maxBody = 1 << 20

// Endpoint binds an HTTPClient to a base URL and a per-request timeout.
type Endpoint struct {
	Client  HTTPClient
	BaseURL string
	Timeout time.Duration
}

func (e Endpoint) url(path string) string {
	return strings.TrimRight(e.BaseURL, "/") + path
}

func (e Endpoint) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.url(path), rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return b, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return b, nil
}

// Raw issues a GET and returns the raw body of a 200 response.
func (e Endpoint) Raw(ctx context.Context, path string) ([]byte, error) {
	b, err := e.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if s := strings.TrimSpace(string(b)); s == "" || s == "None" {
		return nil, ErrNoData
	}
	return b, nil
}

// GetJSON issues a GET and decodes a 200 response into out.
func (e Endpoint) GetJSON(ctx context.Context, path string, out any) error {
	b, err := e.Raw(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// PostJSON sends body as JSON with POST and succeeds only on 200.
func (e Endpoint) PostJSON(ctx context.Context, path string, body any) error {
	_, err := e.do(ctx, http.MethodPost, path, body)
	return err
}

// PutJSON sends body as JSON with PUT and succeeds only on 200.
func (e Endpoint) PutJSON(ctx context.Context, path string, body any) error {
	_, err := e.do(ctx, http.MethodPut, path, body)
	return err
}

// Probe issues a GET and succeeds on any HTTP answer, whatever its status.
func (e Endpoint) Probe(ctx context.Context, path string) error {
	_, err := e.do(ctx, http.MethodGet, path, nil)
	if errors.Is(err, ErrStatus) {
		return nil
	}
	return err
}
