// Package completion sends a single prompt to a hosted generative model and
// returns the generated text.
//
// Every call makes exactly one upstream request. Failures are reported as
// one of four categories (ErrEmptyPrompt, ErrEmptyResponse,
// ErrUpstreamUnavailable, ErrUnknown) so callers never need to inspect
// transport or SDK error types.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-flash"

var (
	// ErrEmptyPrompt is returned for a blank prompt; nothing is sent upstream.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrEmptyResponse means the model answered without usable text.
	ErrEmptyResponse = errors.New("completion returned no text")
	// ErrUpstreamUnavailable covers transport and availability failures.
	ErrUpstreamUnavailable = errors.New("completion service unavailable")
	// ErrUnknown is any other upstream failure.
	ErrUnknown = errors.New("completion failed")
)

var outcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "completion_requests_total",
		Help: "Completion requests by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(outcomes)
}

// Generator is the part of *genai.GenerativeModel the client relies on.
type Generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client answers prompts through a Generator.
type Client struct {
	gen    Generator
	closer io.Closer
}

// New dials the Gemini API with apiKey and binds the named model. Extra
// options are applied after the key.
func New(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key required")
	}
	if model == "" {
		model = DefaultModel
	}
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	gc, err := genai.NewClient(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Client{gen: gc.GenerativeModel(model), closer: gc}, nil
}

// NewWithGenerator wraps an existing Generator.
func NewWithGenerator(g Generator) *Client {
	return &Client{gen: g}
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Complete sends prompt and returns the concatenated text parts of the
// first candidate.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		outcomes.WithLabelValues("empty_prompt").Inc()
		return "", ErrEmptyPrompt
	}

	resp, err := c.gen.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		cat := classify(err)
		outcomes.WithLabelValues(outcomeLabel(cat)).Inc()
		log.Ctx(ctx).Warn().Err(err).Str("category", cat.Error()).Msg("completion failed")
		return "", fmt.Errorf("%w: %v", cat, err)
	}

	text := firstText(resp)
	if strings.TrimSpace(text) == "" {
		outcomes.WithLabelValues("empty_response").Inc()
		return "", ErrEmptyResponse
	}
	outcomes.WithLabelValues("ok").Inc()
	return text, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

// classify maps an upstream error onto a category.
func classify(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return ErrEmptyResponse
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamUnavailable
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code >= http.StatusInternalServerError || gerr.Code == http.StatusTooManyRequests {
			return ErrUpstreamUnavailable
		}
		return ErrUnknown
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
			return ErrUpstreamUnavailable
		}
		return ErrUnknown
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return ErrUpstreamUnavailable
	}
	return ErrUnknown
}

func outcomeLabel(cat error) string {
	switch cat {
	case ErrEmptyResponse:
		return "empty_response"
	case ErrUpstreamUnavailable:
		return "unavailable"
	}
	return "error"
}
