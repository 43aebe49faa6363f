package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/widgetchat-backend/internal/platform/envutil"
)

type Options struct {
	BaseURL string
	APIKey  string

	DefaultModel   string
	DefaultOptions map[string]any

	HealthTimeout time.Duration
	Timeout       time.Duration
	PullTimeout   time.Duration
	MaxRetries    int

	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	apiKey  string

	defaultModel   string
	defaultOptions map[string]any

	healthTimeout time.Duration
	timeout       time.Duration
	pullTimeout   time.Duration
	maxRetries    int

	httpClient *http.Client
}

var _ Engine = (*Client)(nil)

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}

	healthTimeout := opts.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 5 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	pullTimeout := opts.PullTimeout
	if pullTimeout <= 0 {
		pullTimeout = 300 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	defaults := opts.DefaultOptions
	if defaults == nil {
		defaults = DefaultOptions()
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(opts.APIKey),
		defaultModel:   strings.TrimSpace(opts.DefaultModel),
		defaultOptions: MergeOptions(defaults, nil),
		healthTimeout:  healthTimeout,
		timeout:        timeout,
		pullTimeout:    pullTimeout,
		maxRetries:     maxRetries,
		httpClient:     hc,
	}, nil
}

func NewFromEnv() (*Client, error) {
	return New(Options{
		BaseURL:       envutil.String("INFERENCE_BASE_URL", "http://localhost:11434"),
		APIKey:        envutil.String("INFERENCE_API_KEY", ""),
		DefaultModel:  envutil.String("INFERENCE_DEFAULT_MODEL", "qwen2.5-coder:latest"),
		HealthTimeout: envutil.Seconds("INFERENCE_HEALTH_TIMEOUT_SECONDS", 5*time.Second),
		Timeout:       envutil.Seconds("INFERENCE_TIMEOUT_SECONDS", 120*time.Second),
		PullTimeout:   envutil.Seconds("INFERENCE_PULL_TIMEOUT_SECONDS", 300*time.Second),
		MaxRetries:    envutil.Int("INFERENCE_MAX_RETRIES", 2),
	})
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) DefaultModel() string { return c.defaultModel }

// Health probes the model listing endpoint with the short timeout. It never retries.
func (c *Client) Health(ctx context.Context) bool {
	var resp tagsResponse
	return c.doJSON(ctx, c.healthTimeout, 0, http.MethodGet, "/api/tags", nil, &resp) == nil
}

func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var resp tagsResponse
	if err := c.doJSON(ctx, c.healthTimeout*2, c.maxRetries, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Models == nil {
		return []ModelInfo{}, nil
	}
	return resp.Models, nil
}

// Generate runs a single non-streaming chat completion. Options are merged over the
// client defaults into a fresh map. Generation is not retried.
func (c *Client) Generate(ctx context.Context, model string, messages []Message, options map[string]any) (*Reply, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return nil, ErrModelRequired
	}

	ctx, span := otel.Tracer("inference").Start(ctx, "inference.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("inference.model", model),
		attribute.Int("inference.messages", len(messages)),
	)

	req := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  MergeOptions(c.defaultOptions, options),
	}

	var resp chatResponse
	if err := c.doJSON(ctx, c.timeout, 0, http.MethodPost, "/api/chat", req, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	content := resp.Message.Content
	if strings.TrimSpace(content) == "" {
		span.SetStatus(codes.Error, ErrEmptyReply.Error())
		return nil, ErrEmptyReply
	}
	span.SetAttributes(attribute.Int("inference.eval_count", resp.EvalCount))

	out := &Reply{
		Model:         resp.Model,
		Content:       content,
		EvalCount:     resp.EvalCount,
		PromptEvalCnt: resp.PromptEvalCount,
		EvalDuration:  resp.EvalDuration,
		LoadDuration:  resp.LoadDuration,
		TotalDuration: resp.TotalDuration,
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

func (c *Client) PullModel(ctx context.Context, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return ErrModelRequired
	}
	var resp pullResponse
	if err := c.doJSON(ctx, c.pullTimeout, 0, http.MethodPost, "/api/pull", pullRequest{Name: model, Stream: false}, &resp); err != nil {
		return err
	}
	if s := strings.TrimSpace(resp.Status); s != "" && s != "success" {
		return errors.New("pull model: " + s)
	}
	return nil
}

// ---------------- HTTP helpers ----------------

func (c *Client) setHeaders(req *http.Request, contentType string, accept string) {
	if strings.TrimSpace(contentType) != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(accept) != "" {
		req.Header.Set("Accept", accept)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) doJSON(ctx context.Context, timeout time.Duration, retries int, method string, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx2 := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var lastErr error
	backoff := 250 * time.Millisecond
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx2.Err() != nil {
			return ctx2.Err()
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(buf.Bytes())
		}
		req, err := http.NewRequestWithContext(ctx2, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		contentType := ""
		if body != nil {
			contentType = "application/json"
		}
		c.setHeaders(req, contentType, "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
			_ = resp.Body.Close()
			if readErr != nil {
				return readErr
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				lastErr = parseHTTPError(resp.StatusCode, raw)
				var herr *HTTPError
				if errors.As(lastErr, &herr) && !herr.Retryable() {
					return lastErr
				}
			} else {
				if out == nil {
					return nil
				}
				return json.Unmarshal(raw, out)
			}
		}

		if attempt < retries {
			select {
			case <-ctx2.Done():
				return ctx2.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}
	}

	if lastErr == nil {
		lastErr = errors.New("request failed")
	}
	return lastErr
}
