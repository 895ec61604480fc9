// Package pushclient talks to the HTTP push notification provider.
package pushclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"campusflow/internal/logging"
)

// MaxBatch is the provider's limit on tokens per multicast request.
const MaxBatch = 500

// Provider error codes that mean the token will never be deliverable.
const (
	CodeNotRegistered   = "registration-token-not-registered"
	CodeInvalidToken    = "invalid-registration-token"
	CodeInvalidArgument = "invalid-argument"
)

// ErrUnavailable is returned while the breaker is open or the provider is unreachable.
var ErrUnavailable = errors.New("push provider unavailable")

// Message is a push payload.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Result is the outcome for one token.
type Result struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Invalid reports whether the token should be pruned.
func (r Result) Invalid() bool {
	return InvalidCode(r.Error)
}

// InvalidCode reports whether code marks a dead token.
func InvalidCode(code string) bool {
	switch code {
	case CodeNotRegistered, CodeInvalidToken, CodeInvalidArgument:
		return true
	}
	return false
}

// BatchResult aggregates per-token results.
type BatchResult struct {
	Success int      `json:"success_count"`
	Failure int      `json:"failure_count"`
	Results []Result `json:"results"`
}

// InvalidTokens lists the tokens the provider rejected permanently.
func (b BatchResult) InvalidTokens() []string {
	var out []string
	for _, r := range b.Results {
		if r.Invalid() {
			out = append(out, r.Token)
		}
	}
	return out
}

// ProviderError is a non-2xx provider response.
type ProviderError struct {
	Status int
	Code   string
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("push provider error %d %s: %s", e.Status, e.Code, e.Body)
}

// Client calls the push provider.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Skip    bool

	breaker *gobreaker.CircuitBreaker[[]byte]
}

// New creates a client with configurable timeout.
func New(baseURL, apiKey string, skip bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "push-provider",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				var perr *ProviderError
				if errors.As(err, &perr) {
					return perr.Status < 500
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("push circuit breaker state change")
			},
		}),
	}
}

// SendOne delivers to a single token. A provider rejection is reported in the Result.
func (c *Client) SendOne(ctx context.Context, token string, msg Message) (Result, error) {
	if c.Skip {
		return Result{Token: token, Success: true}, nil
	}
	_, err := c.post(ctx, "/send", map[string]any{"token": token, "notification": msg, "data": msg.Data})
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Status < 500 {
		return Result{Token: token, Error: perr.Code}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Token: token, Success: true}, nil
}

// SendBatch delivers to many tokens in chunks of MaxBatch. Chunks that fail outright are
// counted as failures for each of their tokens and the last such error is returned.
func (c *Client) SendBatch(ctx context.Context, tokens []string, msg Message) (BatchResult, error) {
	var (
		res     BatchResult
		lastErr error
	)
	for start := 0; start < len(tokens); start += MaxBatch {
		end := start + MaxBatch
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]
		if c.Skip {
			for _, t := range chunk {
				res.Results = append(res.Results, Result{Token: t, Success: true})
			}
			res.Success += len(chunk)
			continue
		}

		body, err := c.post(ctx, "/send/batch", map[string]any{"tokens": chunk, "notification": msg, "data": msg.Data})
		if err != nil {
			lastErr = err
			res.Failure += len(chunk)
			for _, t := range chunk {
				res.Results = append(res.Results, Result{Token: t, Error: "unavailable"})
			}
			continue
		}
		var out struct {
			Results []Result `json:"results"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			lastErr = fmt.Errorf("failed to decode response: %w", err)
			res.Failure += len(chunk)
			continue
		}
		for i, r := range out.Results {
			if r.Token == "" && i < len(chunk) {
				r.Token = chunk[i]
			}
			if r.Success {
				res.Success++
			} else {
				res.Failure++
			}
			res.Results = append(res.Results, r)
		}
	}
	return res, lastErr
}

// Health checks if the provider is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push provider unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			var e struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(data, &e)
			return nil, &ProviderError{Status: resp.StatusCode, Code: e.Error, Body: string(data)}
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, err
}
