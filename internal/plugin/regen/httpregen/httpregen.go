package httpregen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/config"
	registryregen "github.com/clark-center/change-object-author/internal/registry/regen"
	"github.com/sony/gobreaker"
)

func init() {
	registryregen.Register(registryregen.Plugin{
		Name:   "http",
		Loader: load,
	})
}

func load(ctx context.Context) (registryregen.Regenerator, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.LearningObjectAPI == "" {
		return nil, fmt.Errorf("httpregen: learning object api url is required")
	}
	return New(cfg.LearningObjectAPI, &http.Client{Timeout: cfg.RegenTimeout}), nil
}

// Client asks the learning-object service to rebuild an object's PDF.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client for the service rooted at baseURL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "learning-object-api",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
			// A rejected token says nothing about the service's health.
			IsSuccessful: func(err error) bool {
				var se *StatusError
				return err == nil || (errors.As(err, &se) && se.StatusCode < 500)
			},
		}),
	}
}

// StatusError reports a non-2xx response from the learning-object service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) RequestRegeneration(ctx context.Context, objectID, authToken string) error {
	endpoint := c.baseURL + "/learning-objects/" + url.PathEscape(objectID) + "/pdf"
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.patch(ctx, endpoint, authToken)
	})
	if err != nil {
		return fmt.Errorf("httpregen: regenerate %s: %w", objectID, err)
	}
	return nil
}

func (c *Client) patch(ctx context.Context, endpoint, authToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, nil)
	if err != nil {
		return err
	}
	if authToken != "" {
		req.Header.Set("Authorization", authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
