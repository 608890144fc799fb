package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/pavelanni/omrgrader/internal/llm/prompts"
	"github.com/pavelanni/omrgrader/internal/model"
	"github.com/pavelanni/omrgrader/internal/scoring"
)

// ErrUnsupportedImage is returned for payloads that are not images.
var ErrUnsupportedImage = errors.New("unsupported image type")

// Config holds recognition client settings.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	PromptVariant prompts.PromptVariant
	Segmentation  scoring.Segmentation
	// RequestsPerSecond throttles calls to the endpoint; 0 disables throttling.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client recognizes answer sheets through an OpenAI-compatible vision model.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
	seg     scoring.Segmentation
	limiter *rate.Limiter
	timeout time.Duration
}

// New creates a new recognition client.
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("model name is required")
	}
	if cfg.PromptVariant == "" {
		cfg.PromptVariant = prompts.PromptStrict
	}
	if !prompts.IsValidVariant(string(cfg.PromptVariant)) {
		return nil, fmt.Errorf("invalid prompt variant %q", cfg.PromptVariant)
	}
	if cfg.Segmentation == (scoring.Segmentation{}) {
		cfg.Segmentation = scoring.DefaultSegmentation
	}
	if err := cfg.Segmentation.Validate(); err != nil {
		return nil, err
	}
	if err := prompts.Load(); err != nil {
		return nil, err
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   cfg.Model,
		variant: cfg.PromptVariant,
		seg:     cfg.Segmentation,
		limiter: limiter,
		timeout: cfg.Timeout,
	}, nil
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Recognize extracts the marked answers from a sheet image. An empty
// mimeType is sniffed from the image bytes. A response that does not match
// the answer-set schema yields scoring.ErrMalformedAnswerSet.
func (c *Client) Recognize(ctx context.Context, image []byte, mimeType string) (model.RawAnswerSet, error) {
	url, err := dataURL(image, mimeType)
	if err != nil {
		return model.RawAnswerSet{}, err
	}
	prompt, err := prompts.BuildRecognizePrompt(c.variant, c.seg)
	if err != nil {
		return model.RawAnswerSet{}, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return model.RawAnswerSet{}, fmt.Errorf("wait for rate limiter: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    url,
						Detail: openai.ImageURLDetailHigh,
					}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return model.RawAnswerSet{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.RawAnswerSet{}, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw, "elapsed", time.Since(start))

	answers, err := scoring.ParseRecognition([]byte(raw), c.seg)
	if err != nil {
		return model.RawAnswerSet{}, fmt.Errorf("parse LLM response: %w", err)
	}
	return answers, nil
}

func dataURL(image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	mimeType = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mimeType)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image), nil
}
