package raster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/vegchange/internal/aoi"
)

// HTTPEngine implements Engine against a remote processing service's JSON API.
type HTTPEngine struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPEngine creates a new remote engine client.
func NewHTTPEngine(baseURL, token string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPEngine) Name() string { return "http" }

func (c *HTTPEngine) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: engine not ready (status %d)", ErrEngineUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPEngine) Composite(ctx context.Context, req CompositeRequest) (Image, error) {
	var img Image
	err := c.do(ctx, http.MethodPost, "/v1/composites", req, &img)
	return img, err
}

func (c *HTTPEngine) AddIndex(ctx context.Context, img Image, index string) (Image, error) {
	var out Image
	err := c.do(ctx, http.MethodPost, imagePath(img, "indices"), map[string]string{"index": index}, &out)
	return out, err
}

func (c *HTTPEngine) Subtract(ctx context.Context, a Image, aBand string, b Image, bBand string, name string) (Image, error) {
	body := struct {
		A     string `json:"a"`
		ABand string `json:"a_band"`
		B     string `json:"b"`
		BBand string `json:"b_band"`
		Name  string `json:"name"`
	}{a.ID, aBand, b.ID, bBand, name}

	var out Image
	err := c.do(ctx, http.MethodPost, "/v1/images:subtract", body, &out)
	return out, err
}

func (c *HTTPEngine) Reclassify(ctx context.Context, img Image, band string, rules []Rule, fallback int, name string) (Image, error) {
	body := struct {
		Band     string `json:"band"`
		Rules    []Rule `json:"rules"`
		Fallback int    `json:"fallback"`
		Name     string `json:"name"`
	}{band, rules, fallback, name}

	var out Image
	err := c.do(ctx, http.MethodPost, imagePath(img, "reclassify"), body, &out)
	return out, err
}

func (c *HTTPEngine) AddBands(ctx context.Context, dst, src Image, bands ...string) (Image, error) {
	body := struct {
		Source string   `json:"source"`
		Bands  []string `json:"bands,omitempty"`
	}{src.ID, bands}

	var out Image
	err := c.do(ctx, http.MethodPost, imagePath(dst, "bands"), body, &out)
	return out, err
}

func (c *HTTPEngine) Empty(ctx context.Context) (Image, error) {
	var out Image
	err := c.do(ctx, http.MethodPost, "/v1/images", struct{}{}, &out)
	return out, err
}

func (c *HTTPEngine) SetProperties(ctx context.Context, img Image, props map[string]string) (Image, error) {
	var out Image
	err := c.do(ctx, http.MethodPatch, imagePath(img, "properties"), props, &out)
	return out, err
}

func (c *HTTPEngine) Histogram(ctx context.Context, img Image, band string, region aoi.AOI, scale float64) (Histogram, error) {
	body := struct {
		Band   string  `json:"band"`
		Region aoi.AOI `json:"region"`
		Scale  float64 `json:"scale"`
	}{band, region, scale}

	var resp struct {
		Histogram Histogram `json:"histogram"`
	}
	if err := c.do(ctx, http.MethodPost, imagePath(img, "histogram"), body, &resp); err != nil {
		return nil, err
	}
	if resp.Histogram == nil {
		return Histogram{}, nil
	}
	return resp.Histogram, nil
}

func (c *HTTPEngine) SubmitExport(ctx context.Context, img Image, dst Destination) (Task, error) {
	body := struct {
		Image string `json:"image"`
		Destination
	}{img.ID, dst}

	var t Task
	err := c.do(ctx, http.MethodPost, "/v1/exports", body, &t)
	return t, err
}

func (c *HTTPEngine) TaskStatus(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := c.do(ctx, http.MethodGet, "/v1/exports/"+url.PathEscape(taskID), nil, &t)
	if errors.Is(err, ErrUnknownImage) {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t, err
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *HTTPEngine) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding engine response: %w", err)
	}
	return nil
}

func (c *HTTPEngine) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
}

func imagePath(img Image, action string) string {
	return "/v1/images/" + url.PathEscape(img.ID) + "/" + action
}

// statusError maps non-2xx responses to sentinel errors, keeping the engine's message.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var e struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
	msg := e.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownImage, msg)
	case e.Error.Code == "unknown_band":
		return fmt.Errorf("%w: %s", ErrUnknownBand, msg)
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w: status %d", ErrEngineTimeout, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrEngineUnreachable, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrEngineRejected, resp.StatusCode, msg)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
}

// Compile-time check that HTTPEngine implements Engine.
var _ Engine = (*HTTPEngine)(nil)
