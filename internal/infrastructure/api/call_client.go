package api

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
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"
	"hirecall/pkg/circuitbreaker"
	apperrors "hirecall/pkg/errors"
	"hirecall/pkg/retry"
	"hirecall/pkg/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const maxErrorBody = 64 << 10

// errRetryable marks failures worth another attempt: transport errors and
// temporary statuses.
var errRetryable = errors.New("retryable")

type retryableError struct{ err error }

func (e retryableError) Error() string        { return e.err.Error() }
func (e retryableError) Unwrap() error        { return e.err }
func (e retryableError) Is(target error) bool { return target == errRetryable }

// ClientConfig configures the call API client.
type ClientConfig struct {
	BaseURL string
	Tokens  ports.TokenProvider
	Timeout time.Duration
	Retry   retry.Config
	Breaker circuitbreaker.Config
}

func DefaultClientConfig(baseURL string, tokens ports.TokenProvider) ClientConfig {
	cfg := ClientConfig{
		BaseURL: baseURL,
		Tokens:  tokens,
		Timeout: 10 * time.Second,
		Retry:   retry.DefaultConfig(),
		Breaker: circuitbreaker.DefaultConfig(),
	}
	cfg.Breaker.IsFailure = func(err error) bool { return errors.Is(err, errRetryable) }
	return cfg
}

// CallClient talks to the call REST endpoints with a bearer token. Requests
// are retried on transient failures and short-circuited while the server
// keeps failing.
type CallClient struct {
	baseURL string
	tokens  ports.TokenProvider
	http    *http.Client
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewCallClient(cfg ClientConfig, logger *zap.SugaredLogger) *CallClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	rc := cfg.Retry
	rc.RetryableErrors = []error{errRetryable}
	if rc.OnRetry == nil {
		rc.OnRetry = func(attempt int, err error, delay time.Duration) {
			logger.Warnw("Retrying call API request", "attempt", attempt, "delay", delay, "error", err)
		}
	}

	breaker := circuitbreaker.New(cfg.Breaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Call API circuit changed", "from", from.String(), "to", to.String())
	})

	return &CallClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  cfg.Tokens,
		http:    &http.Client{Timeout: cfg.Timeout},
		retry:   rc,
		breaker: breaker,
		logger:  logger,
	}
}

type createCallRequest struct {
	Participants []domain.Participant `json:"participants"`
}

func (c *CallClient) CreateCall(ctx context.Context, participants []domain.Participant) (*domain.Call, error) {
	var call domain.Call
	if err := c.do(ctx, http.MethodPost, "/api/v1/call", nil, createCallRequest{Participants: participants}, &call); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	return &call, nil
}

func (c *CallClient) ListCallHistory(ctx context.Context, limit, offset int) ([]domain.CallWithTranscript, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var calls []domain.CallWithTranscript
	if err := c.do(ctx, http.MethodGet, "/api/v1/call/history", query, nil, &calls); err != nil {
		return nil, fmt.Errorf("list call history: %w", err)
	}
	return calls, nil
}

// BreakerState reports the circuit state for health output.
func (c *CallClient) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

func (c *CallClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	ctx, span := tracing.TraceHTTPRequest(ctx, method, path)
	defer span.End()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	err = retry.Retry(ctx, c.retry, func() error {
		return c.breaker.Execute(ctx, func() error {
			return c.once(ctx, method, path, query, token, payload, out)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *CallClient) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", domain.ErrAuth
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	if token == "" {
		return "", domain.ErrAuth
	}
	return token, nil
}

func (c *CallClient) once(ctx context.Context, method, path string, query url.Values, token string, payload []byte, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retryableError{err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()

	c.logger.Debugw("Call API request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		appErr := decodeError(resp)
		if appErr.Temporary() {
			return retryableError{err: appErr}
		}
		return appErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeError(resp *http.Response) *apperrors.AppError {
	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(data, &body); err != nil {
		body.Message = strings.TrimSpace(string(data))
	}
	appErr := apperrors.FromStatus(resp.StatusCode, apperrors.ErrorCode(body.Error), body.Message)
	if resp.StatusCode == http.StatusUnauthorized {
		appErr.Cause = domain.ErrAuth
	}
	return appErr
}

var _ ports.CallAPI = (*CallClient)(nil)
