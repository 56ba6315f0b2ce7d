// Package ollama talks to a local Ollama server over its REST API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goosewin/ontogen/internal/backend"
	"github.com/goosewin/ontogen/internal/config"
)

// DefaultHost is where `ollama serve` listens unless told otherwise.
const DefaultHost = "http://localhost:11434"

// DefaultPort is assumed when a scheme-less host such as OLLAMA_HOST=0.0.0.0
// carries no port.
const DefaultPort = "11434"

var ErrModelNotFound = errors.New("model not found")

// APIError is a non-2xx reply from the Ollama server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama returned HTTP %d: %s", e.StatusCode, e.Message)
}

type Backend struct {
	host   string
	client *http.Client
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model      string `json:"model"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}

type showRequest struct {
	Model string `json:"model"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type versionResponse struct {
	Version string `json:"version"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New returns a backend that resolves its host and timeout from config on
// every call, so it can be registered before config is loaded.
func New() *Backend {
	return &Backend{client: &http.Client{}}
}

// NewWithHost returns a backend pinned to host. A nil client uses a fresh
// http.Client.
func NewWithHost(host string, client *http.Client) *Backend {
	if client == nil {
		client = &http.Client{}
	}
	return &Backend{host: host, client: client}
}

var _ backend.Backend = (*Backend)(nil)

func init() {
	if err := backend.Register("ollama", New()); err != nil {
		panic(err)
	}
}

func (b *Backend) Name() string {
	return "ollama"
}

func (b *Backend) CheckInstalled(ctx context.Context, model string) error {
	if strings.TrimSpace(model) == "" {
		return errors.New("model is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var version versionResponse
	if err := b.do(ctx, http.MethodGet, "/api/version", nil, &version); err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", b.baseURL(), err)
	}

	err := b.do(ctx, http.MethodPost, "/api/show", showRequest{Model: model}, nil)
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s (try `ollama pull %s`)", ErrModelNotFound, model, model)
	}
	return fmt.Errorf("ollama show %s: %w", model, err)
}

func (b *Backend) Models(ctx context.Context) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var tags tagsResponse
	if err := b.do(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, fmt.Errorf("list ollama models: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, model := range tags.Models {
		name := model.Name
		if name == "" {
			name = model.Model
		}
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) Generate(ctx context.Context, opts backend.GenerateOptions) (string, error) {
	if strings.TrimSpace(opts.Prompt) == "" {
		return "", errors.New("prompt is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return "", errors.New("model is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var resp generateResponse
	req := generateRequest{Model: opts.Model, Prompt: opts.Prompt, Stream: false}
	if err := b.do(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return resp.Response, nil
}

func (b *Backend) do(ctx context.Context, method, path string, body, out interface{}) error {
	if timeout := b.requestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL()+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseAPIError(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{StatusCode: statusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
}

func (b *Backend) baseURL() string {
	host := strings.TrimSpace(b.host)
	if host == "" {
		if value, ok := config.GetConfig("ollama.host"); ok {
			host = strings.TrimSpace(value)
		}
	}
	if host == "" {
		host = DefaultHost
	}
	if !strings.Contains(host, "://") {
		hostport, path, _ := strings.Cut(host, "/")
		if _, _, err := net.SplitHostPort(hostport); err != nil {
			hostport = net.JoinHostPort(strings.Trim(hostport, "[]"), DefaultPort)
		}
		host = "http://" + hostport
		if path != "" {
			host += "/" + path
		}
	}
	return strings.TrimRight(host, "/")
}

func (b *Backend) requestTimeout() time.Duration {
	value, ok := config.GetConfig("ollama.timeout")
	if !ok || strings.TrimSpace(value) == "" {
		return 0
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
