package flightless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const translatePrompt = `Detect the language of the user's text and translate it to English. ` +
	`If it is already English, translate it to French. Respond with a JSON object ` +
	`with the keys "text" (the translation), "source" (the detected language name) ` +
	`and "target" (the language translated to).`

var errEmptyTranslation = errors.New("empty translation")

// Translation is the result of translating a message
type Translation struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Translator translates free text for the 'translate' command
type Translator interface {
	Translate(ctx context.Context, text string) (Translation, error)
}

// ChatCompletionClient is the subset of the OpenAI client used for
// translation
type ChatCompletionClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)
}

// OpenAITranslator translates with a chat completion model, one request
// at a time per the configured rate.
type OpenAITranslator struct {
	client         ChatCompletionClient
	config         *TranslateConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
	mu             sync.RWMutex
}

func newOpenAITranslator(
	config *TranslateConfig,
	httpClient *http.Client,
) *OpenAITranslator {
	clientCfg := openai.DefaultConfig(config.Token)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return newTranslatorWithClient(config, openai.NewClientWithConfig(clientCfg))
}

func newTranslatorWithClient(
	config *TranslateConfig,
	client ChatCompletionClient,
) *OpenAITranslator {
	var level slog.Leveler = DefaultTranslateLogLevel
	if config.LogLevel != nil {
		level = config.LogLevel
	}
	limit := rate.Inf
	if config.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(config.MaxRequestsPerSecond)
	}
	return &OpenAITranslator{
		client:         client,
		config:         config,
		logger:         newComponentLogger("translate", level),
		requestLimiter: rate.NewLimiter(limit, 1),
	}
}

// SetLimit changes the request rate at runtime
func (o *OpenAITranslator) SetLimit(rps float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rps <= 0 {
		o.requestLimiter.SetLimit(rate.Inf)
		return
	}
	o.requestLimiter.SetLimit(rate.Limit(rps))
}

func (o *OpenAITranslator) waitOnRequestLimiter(ctx context.Context) error {
	o.mu.RLock()
	requestLimiter := o.requestLimiter
	o.mu.RUnlock()
	return requestLimiter.Wait(ctx)
}

func (o *OpenAITranslator) Translate(
	ctx context.Context,
	text string,
) (Translation, error) {
	logger := loggerFrom(ctx, o.logger)

	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}
	if err := o.waitOnRequestLimiter(ctx); err != nil {
		return Translation{}, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := o.client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model: o.config.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: translatePrompt},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "translation request failed", tint.Err(err))
		return Translation{}, err
	}
	if len(resp.Choices) == 0 {
		return Translation{}, errEmptyTranslation
	}

	var t Translation
	if err = json.Unmarshal([]byte(resp.Choices[0].Message.Content), &t); err != nil {
		logger.ErrorContext(
			ctx,
			"unexpected translation response",
			"content", truncate(resp.Choices[0].Message.Content, 200),
			tint.Err(err),
		)
		return Translation{}, fmt.Errorf("error decoding translation: %w", err)
	}
	if strings.TrimSpace(t.Text) == "" {
		return Translation{}, errEmptyTranslation
	}
	logger.InfoContext(
		ctx,
		"translated message",
		"source", t.Source,
		"target", t.Target,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return t, nil
}
