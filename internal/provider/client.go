package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"automation-engine/internal/model"
	"automation-engine/internal/service/automation"
	"automation-engine/pkg/circuitbreaker"
	"automation-engine/pkg/metrics"
	"automation-engine/pkg/otel"
)

const (
	sendPath   = "/v3/smtp/email"
	eventsPath = "/v3/smtp/statistics/events"
)

// Config is the process-wide provider client configuration.
// Per-organization credentials come from model.ProviderConfig.
type Config struct {
	BaseURL        string                `yaml:"base_url"`
	Timeout        time.Duration         `yaml:"timeout"`
	RatePerSecond  float64               `yaml:"rate_per_second"`
	Burst          int                   `yaml:"burst"`
	CircuitBreaker circuitbreaker.Config `yaml:"circuit_breaker"`
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.brevo.com"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RatePerSecond)
	}
	return c
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to a Brevo-style transactional email API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	c.breaker = circuitbreaker.NewCircuitBreaker(cfg.CircuitBreaker,
		circuitbreaker.WithStateChange(func(from, to circuitbreaker.State) {
			metrics.SetProviderCircuitState(int(to))
			logger.Warn("Provider circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
	)
	return c
}

// BreakerState exposes the circuit state for readiness reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendRequest struct {
	Sender     *address          `json:"sender,omitempty"`
	To         []address         `json:"to"`
	TemplateID int64             `json:"templateId"`
	Params     map[string]string `json:"params,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

// Send delivers one templated message and returns the provider message id.
func (c *Client) Send(ctx context.Context, cfg model.ProviderConfig, msg model.OutboundMessage) (string, error) {
	body := sendRequest{
		To:         []address{{Email: msg.Email, Name: msg.Name}},
		TemplateID: msg.TemplateID,
		Params:     msg.Variables,
		Tags:       msg.Tags,
	}
	if cfg.SenderEmail != "" {
		body.Sender = &address{Email: cfg.SenderEmail, Name: cfg.SenderName}
	}

	var out sendResponse
	if err := c.do(ctx, cfg, http.MethodPost, sendPath, nil, body, &out); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

type wireEvent struct {
	Email     string `json:"email"`
	Date      string `json:"date"`
	MessageID string `json:"messageId"`
	Event     string `json:"event"`
	Subject   string `json:"subject"`
	Tag       string `json:"tag"`
	Reason    string `json:"reason"`
}

type eventsResponse struct {
	Events []wireEvent `json:"events"`
}

// ListEvents fetches one page of delivery events, oldest first.
func (c *Client) ListEvents(ctx context.Context, cfg model.ProviderConfig, q model.EventQuery) (model.EventPage, error) {
	params := url.Values{}
	params.Set("startDate", q.From.UTC().Format(time.DateOnly))
	params.Set("endDate", q.To.UTC().Format(time.DateOnly))
	params.Set("limit", strconv.Itoa(q.PageSize))
	params.Set("offset", strconv.Itoa(q.Page*q.PageSize))
	params.Set("sort", "asc")
	if q.Tag != "" {
		params.Set("tags", q.Tag)
	}

	var out eventsResponse
	if err := c.do(ctx, cfg, http.MethodGet, eventsPath, params, nil, &out); err != nil {
		return model.EventPage{}, err
	}

	page := model.EventPage{
		Events:  make([]model.ProviderEvent, 0, len(out.Events)),
		HasMore: q.PageSize > 0 && len(out.Events) >= q.PageSize,
	}
	for _, ev := range out.Events {
		page.Events = append(page.Events, model.ProviderEvent{
			Email:     ev.Email,
			Date:      parseDate(ev.Date),
			MessageID: ev.MessageID,
			Event:     ev.Event,
			Subject:   ev.Subject,
			Tag:       ev.Tag,
			Reason:    ev.Reason,
		})
	}
	return page, nil
}

func parseDate(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (c *Client) limiter(apiKey string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[apiKey]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RatePerSecond), c.cfg.Burst)
		c.limiters[apiKey] = l
	}
	return l
}

func isUnavailable(err error) bool {
	return errors.Is(err, automation.ErrProviderUnavailable)
}

func (c *Client) do(ctx context.Context, cfg model.ProviderConfig, method, path string, query url.Values, in, out any) error {
	if cfg.APIKey == "" {
		return automation.ErrProviderNotSet
	}
	if err := c.limiter(cfg.APIKey).Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", automation.ErrProviderUnavailable, err)
	}

	base := c.cfg.BaseURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	endpoint := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	ctx, span := otel.StartSpan(ctx, "provider "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.route", path)),
	)

	start := time.Now()
	status := "error"
	err := c.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		var body io.Reader
		if in != nil {
			b, err := json.Marshal(in)
			if err != nil {
				return err
			}
			body = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(callCtx, method, endpoint, body)
		if err != nil {
			return err
		}
		req.Header.Set("api-key", cfg.APIKey)
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", automation.ErrProviderUnavailable, err)
		}
		defer resp.Body.Close()
		status = strconv.Itoa(resp.StatusCode)

		if resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			se := &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
			if se.Retryable() {
				return fmt.Errorf("%w: %w", automation.ErrProviderUnavailable, se)
			}
			return se
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
		return nil
	}, isUnavailable)

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		status = "circuit_open"
		err = fmt.Errorf("%w: %w", automation.ErrProviderUnavailable, err)
	}
	metrics.RecordProviderCallLatency(path, status, time.Since(start))
	span.SetAttributes(attribute.String("provider.status", status))
	otel.EndSpan(span, err)

	if err != nil && isUnavailable(err) {
		c.logger.Warn("Provider call failed",
			zap.String("endpoint", path),
			zap.String("status", status),
			zap.Error(err),
		)
	}
	return err
}
