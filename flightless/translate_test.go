package flightless

import (
	"context"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChatCompletionClient struct {
	mock.Mock
}

func (m *mockChatCompletionClient) CreateChatCompletion(
	ctx context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
		Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 8},
	}
}

func testTranslateConfig() *TranslateConfig {
	return &TranslateConfig{
		Token:   "sk-test",
		Model:   DefaultTranslateModel,
		Timeout: time.Second,
	}
}

func TestOpenAITranslator_Translate(t *testing.T) {
	client := &mockChatCompletionClient{}
	client.On(
		"CreateChatCompletion",
		mock.Anything,
		mock.MatchedBy(
			func(req openai.ChatCompletionRequest) bool {
				return req.Model == DefaultTranslateModel &&
					len(req.Messages) == 2 &&
					req.Messages[0].Role == openai.ChatMessageRoleSystem &&
					req.Messages[1].Content == "hola amigo" &&
					req.ResponseFormat != nil &&
					req.ResponseFormat.Type == openai.ChatCompletionResponseFormatTypeJSONObject
			},
		),
	).Return(
		chatResponse(`{"text": "hello friend", "source": "Spanish", "target": "English"}`),
		nil,
	)

	tr := newTranslatorWithClient(testTranslateConfig(), client)
	got, err := tr.Translate(context.Background(), "hola amigo")
	require.NoError(t, err)
	assert.Equal(t, Translation{Text: "hello friend", Source: "Spanish", Target: "English"}, got)
	client.AssertExpectations(t)
}

func TestOpenAITranslator_Errors(t *testing.T) {
	tests := []struct {
		name string
		resp openai.ChatCompletionResponse
		err  error
		want error
	}{
		{
			name: "request failed",
			err:  errTestShelf,
			want: errTestShelf,
		},
		{
			name: "no choices",
			resp: openai.ChatCompletionResponse{},
			want: errEmptyTranslation,
		},
		{
			name: "empty text",
			resp: chatResponse(`{"text": " ", "source": "French", "target": "English"}`),
			want: errEmptyTranslation,
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				client := &mockChatCompletionClient{}
				client.On("CreateChatCompletion", mock.Anything, mock.Anything).Return(tc.resp, tc.err)
				tr := newTranslatorWithClient(testTranslateConfig(), client)

				_, err := tr.Translate(context.Background(), "bonjour")
				assert.ErrorIs(t, err, tc.want)
			},
		)
	}

	t.Run(
		"not json", func(t *testing.T) {
			client := &mockChatCompletionClient{}
			client.On("CreateChatCompletion", mock.Anything, mock.Anything).Return(
				chatResponse("hello friend"),
				nil,
			)
			tr := newTranslatorWithClient(testTranslateConfig(), client)

			_, err := tr.Translate(context.Background(), "hola")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "error decoding translation")
		},
	)
}

func TestOpenAITranslator_RateLimit(t *testing.T) {
	client := &mockChatCompletionClient{}
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).Return(
		chatResponse(`{"text": "hi", "source": "French", "target": "English"}`),
		nil,
	)
	cfg := testTranslateConfig()
	cfg.MaxRequestsPerSecond = 0.001
	tr := newTranslatorWithClient(cfg, client)

	_, err := tr.Translate(context.Background(), "salut")
	require.NoError(t, err)

	// the second request would wait far longer than the timeout
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.Translate(ctx, "salut")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	client.AssertNumberOfCalls(t, "CreateChatCompletion", 1)

	tr.SetLimit(0)
	_, err = tr.Translate(context.Background(), "salut")
	require.NoError(t, err)
	client.AssertNumberOfCalls(t, "CreateChatCompletion", 2)
}

func TestNewOpenAITranslator(t *testing.T) {
	cfg := testTranslateConfig()
	cfg.BaseURL = "http://127.0.0.1:1/v1"
	tr := newOpenAITranslator(cfg, nil)
	require.NotNil(t, tr)
	assert.NotNil(t, tr.client)
	assert.Equal(t, cfg, tr.config)

	var _ Translator = tr
}
