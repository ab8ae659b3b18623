package architect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel       = "claude-3-5-sonnet-20241022"
	attemptTimeout     = 30 * time.Second
	diagnosisMaxTokens = 2048
)

// backoffDelays drive the retry schedule: one delay per attempt, slept
// before the next attempt when the previous one fails retriably.
var backoffDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// ErrEmptyResponse is returned when the model produces no usable content.
var ErrEmptyResponse = errors.New("empty model response")

const systemPrompt = `You are a data reliability analyst. You analyze data ` +
	`anomalies and perform root-cause analysis. You have access to the table's ` +
	`lineage graph and historical anomaly data.

Always respond with a single JSON object with the fields: root_cause (string), ` +
	`root_cause_table (string), blast_radius (array of table names), severity ` +
	`("critical"|"high"|"medium"|"low"), confidence (number 0-1), and ` +
	`recommendations (array of {action, description, sql?, priority}).
Consider: What upstream change could have caused this? How far does the ` +
	`impact reach downstream? What's the simplest fix?`

// AnthropicClient implements LLMClient against the Anthropic Messages API.
// Each attempt carries its own timeout; transient failures retry with fixed
// backoff, and rate limits honor the server's retry-after hint when present.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewAnthropicClient constructs the adapter. apiKey must be non-empty; the
// caller decides whether a missing key disables the model path entirely.
func NewAnthropicClient(apiKey string, logger *slog.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is empty")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
		logger: logger,
		sleep:  sleepCtx,
	}, nil
}

// Diagnose sends the prompt and returns the raw JSON diagnosis document.
// Returns an error only after the retry budget is exhausted.
func (c *AnthropicClient) Diagnose(ctx context.Context, prompt string) ([]byte, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: diagnosisMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error

	for attempt, delay := range backoffDelays {
		raw, err := c.attempt(ctx, params)
		if err == nil {
			return raw, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		retriable, retryAfter := classifyFailure(err)
		if !retriable {
			return nil, err
		}

		c.logger.Warn("Model call failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", len(backoffDelays)),
			slog.String("error", err.Error()),
		)

		if attempt == len(backoffDelays)-1 {
			break
		}

		wait := delay
		if retryAfter > 0 {
			wait = retryAfter
		}

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("model retries exhausted: %w", lastErr)
}

// attempt performs one bounded model call and extracts the JSON payload.
func (c *AnthropicClient) attempt(ctx context.Context, params anthropic.MessageNewParams) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	message, err := c.client.Messages.New(attemptCtx, params)
	if err != nil {
		return nil, err
	}

	if len(message.Content) == 0 {
		return nil, ErrEmptyResponse
	}

	content := message.Content[0]
	if content.Type != "text" || strings.TrimSpace(content.Text) == "" {
		return nil, ErrEmptyResponse
	}

	return []byte(extractJSON(content.Text)), nil
}

// extractJSON strips any prose or markdown fencing around the first JSON
// object in the response.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start >= 0 && end > start {
		return text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// classifyFailure decides whether an attempt error is worth retrying and
// extracts a rate-limit retry-after hint when the server provided one.
func classifyFailure(err error) (retriable bool, retryAfter time.Duration) {
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.DeadlineExceeded) {
		return true, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, 0
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return true, parseRetryAfter(apiErr)
		}

		return apiErr.StatusCode >= 500, 0
	}

	return false, 0
}

// parseRetryAfter reads the Retry-After header off a rate-limit error.
func parseRetryAfter(apiErr *anthropic.Error) time.Duration {
	if apiErr.Response == nil {
		return 0
	}

	header := apiErr.Response.Header.Get("Retry-After")
	if header == "" {
		return 0
	}

	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
