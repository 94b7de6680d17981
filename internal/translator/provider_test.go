package translator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-translator/internal/types"
)

func TestMockProvider(t *testing.T) {
	text, conf, err := NewMockProvider().Translate(context.Background(), "World", "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "[FR] World", text)
	require.NotNil(t, conf)
	assert.Equal(t, 0.95, *conf)
}

func TestNormalizeAPIURL(t *testing.T) {
	assert.Equal(t, "https://x/v1/chat/completions", normalizeAPIURL("https://x/v1/"))
	assert.Equal(t, "https://x/v1/chat/completions", normalizeAPIURL("https://x/v1/chat/completions"))
}

func TestOpenAIProviderTranslate(t *testing.T) {
	var got ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "\"Bonjour le monde\""}, FinishReason: "stop"}},
			Usage:   Usage{TotalTokens: 12},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", "", server.URL+"/v1", time.Second)
	text, conf, err := p.Translate(context.Background(), "Hello world", "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "Bonjour le monde", text)
	assert.Nil(t, conf, "the chat API reports no confidence")

	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[0].Content, "from en to fr")
	assert.Equal(t, "Hello world", got.Messages[1].Content)
}

func TestOpenAIProviderErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
		{http.StatusServiceUnavailable, false},
		{http.StatusUnauthorized, true},
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"unsupported language pair","type":"invalid_request_error"}}`))
			}))
			defer server.Close()

			_, _, err := NewOpenAIProvider("k", "m", server.URL, time.Second).Translate(context.Background(), "x", "en", "fr")
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
			assert.Equal(t, !tt.permanent, IsTransient(err))
			assert.Contains(t, err.Error(), "unsupported language pair")
		})
	}
}

func TestOpenAIProviderTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	_, _, err := NewOpenAIProvider("k", "m", server.URL, time.Second).Translate(context.Background(), "x", "en", "fr")
	assert.True(t, IsTransient(err), "empty choices")

	url := server.URL
	server.Close()
	_, _, err = NewOpenAIProvider("k", "m", url, time.Second).Translate(context.Background(), "x", "en", "fr")
	require.Error(t, err)
	assert.True(t, IsTransient(err), "connection refused")
}

type fakeChat struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeChat) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func TestEinoProvider(t *testing.T) {
	chat := &fakeChat{reply: " Hallo Welt "}
	p := newEinoProviderWithModel(chat, "m")
	text, conf, err := p.Translate(context.Background(), "Hello world", "auto", "de")
	require.NoError(t, err)
	assert.Equal(t, "Hallo Welt", text)
	assert.Nil(t, conf)
	require.Len(t, chat.input, 2)
	assert.Equal(t, schema.System, chat.input[0].Role)
	assert.Contains(t, chat.input[0].Content, "detected source language")

	chat.err = errors.New("error, status code: 401, status: 401 Unauthorized, message: bad key")
	_, _, err = p.Translate(context.Background(), "x", "en", "de")
	assert.True(t, IsPermanent(err))

	chat.err = errors.New("error, status code: 503, message: overloaded")
	_, _, err = p.Translate(context.Background(), "x", "en", "de")
	assert.True(t, IsTransient(err))

	chat.err = nil
	chat.reply = ""
	_, _, err = p.Translate(context.Background(), "x", "en", "de")
	assert.True(t, IsTransient(err))
}

func TestNewProvider(t *testing.T) {
	cfg := &types.Config{}
	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, ProviderMock, p.Name())

	cfg.Translation.Provider = "openai"
	cfg.Translation.OpenAIAPIKey = "k"
	p, err = NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())

	cfg.Translation.Provider = "babel"
	_, err = NewProvider(context.Background(), cfg)
	assert.True(t, types.IsCode(err, types.ErrConfig))
}

func TestCleanTranslationResult(t *testing.T) {
	assert.Equal(t, "merci", cleanTranslationResult("  \"merci\"\n"))
	assert.Equal(t, `il dit "oui" et "non"`, cleanTranslationResult(`il dit "oui" et "non"`))
	assert.Equal(t, "code", cleanTranslationResult("```code```"))
}
