// Package enhance sends product photos to a Gemini image model and returns the
// edited image.
package enhance

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"storefront/worker/internal/media/sniffer"
)

var (
	ErrInvalidImage = errors.New("invalid source image")
	ErrNoImage      = errors.New("no enhanced image returned")
	ErrTimedOut     = errors.New("enhancement timed out")
	ErrRejected     = errors.New("enhancement endpoint rejected request")
)

// DefaultInstruction is sent when no instruction is configured.
const DefaultInstruction = "Remove the background of this product photo and replace it with a clean, pure white background. " +
	"Improve the lighting so the product is evenly lit, and increase sharpness and clarity. " +
	"Keep the product itself unchanged and return only the edited image."

const (
	DefaultModel       = "gemini-2.5-flash-image-preview"
	DefaultTimeout     = 120 * time.Second
	fallbackSourceMIME = "image/jpeg"
	fallbackResultMIME = "image/png"
	maxReasonLength    = 200
)

// generator is satisfied by *genai.Models.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Options struct {
	Model       string
	Instruction string
	Timeout     time.Duration
	// RateLimit caps requests per second across all jobs; zero disables it.
	RateLimit float64
	Burst     int
	Logger    zerolog.Logger
}

type Result struct {
	Data     string
	MIMEType string
}

type Client struct {
	models      generator
	model       string
	instruction string
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// NewClient builds a Gemini API client. It is constructed once per process.
func NewClient(ctx context.Context, apiKey string, httpClient *http.Client, opts Options) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return newClient(gc.Models, opts), nil
}

func newClient(models generator, opts Options) *Client {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	instruction := strings.TrimSpace(opts.Instruction)
	if instruction == "" {
		instruction = DefaultInstruction
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		models:      models,
		model:       model,
		instruction: instruction,
		timeout:     timeout,
		limiter:     limiter,
		logger:      opts.Logger,
	}
}

func (c *Client) Model() string {
	return c.model
}

// Enhance sends the base64 image with the fixed instruction and returns the
// first inline image of the first candidate, base64-encoded.
func (c *Client) Enhance(ctx context.Context, encoded string) (Result, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return Result{}, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}

	sourceMIME := sniffer.MIMEOrDefault(data, fallbackSourceMIME)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(c.instruction),
			genai.NewPartFromBytes(data, sourceMIME),
		}, genai.RoleUser),
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("wait for enhancement slot: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.models.GenerateContent(callCtx, c.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	})
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return Result{}, fmt.Errorf("%w after %s: %w", ErrTimedOut, c.timeout, err)
		case ctx.Err() != nil:
			return Result{}, fmt.Errorf("enhancement cancelled: %w", err)
		default:
			return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}

	result, err := extractImage(resp)
	if err != nil {
		return Result{}, err
	}

	c.logger.Debug().
		Str("model", c.model).
		Str("source_mime", sourceMIME).
		Str("result_mime", result.MIMEType).
		Dur("elapsed", elapsed).
		Msg("image enhanced")

	return result, nil
}

func extractImage(resp *genai.GenerateContentResponse) (Result, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return Result{}, fmt.Errorf("%w: response has no candidates", ErrNoImage)
	}

	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Result{}, fmt.Errorf("%w: candidate has no content parts", ErrNoImage)
	}

	var text []string
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = fallbackResultMIME
			}
			return Result{
				Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
				MIMEType: mime,
			}, nil
		}
		if t := strings.TrimSpace(part.Text); t != "" {
			text = append(text, t)
		}
	}

	if len(text) > 0 {
		return Result{}, fmt.Errorf("%w: model replied %q", ErrNoImage, truncate(strings.Join(text, " "), maxReasonLength))
	}
	return Result{}, fmt.Errorf("%w: no inline image data", ErrNoImage)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
