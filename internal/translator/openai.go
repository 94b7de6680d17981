package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"doc-translator/internal/logger"
)

const (
	// DefaultModel is the default chat model used for translation.
	DefaultModel = "gpt-4o-mini"
	// DefaultTimeout is the default HTTP client timeout for API calls.
	DefaultTimeout = 60 * time.Second
	// OpenAIAPIURL is the OpenAI chat completions API endpoint.
	OpenAIAPIURL = "https://api.openai.com/v1/chat/completions"
)

// OpenAIProvider translates through an OpenAI compatible chat completions
// endpoint.
type OpenAIProvider struct {
	apiKey string
	client *http.Client
	model  string
	apiURL string
}

// NewOpenAIProvider creates the provider. Empty model, URL or timeout fall
// back to defaults; a base URL without /chat/completions is completed.
func NewOpenAIProvider(apiKey, model, apiURL string, timeout time.Duration) *OpenAIProvider {
	if model == "" {
		model = DefaultModel
	}
	if apiURL == "" {
		apiURL = OpenAIAPIURL
	} else {
		apiURL = normalizeAPIURL(apiURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenAIProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		model:  model,
		apiURL: apiURL,
	}
}

// normalizeAPIURL ensures the API URL ends with /chat/completions
func normalizeAPIURL(url string) string {
	url = strings.TrimSuffix(url, "/")
	if strings.HasSuffix(url, "/chat/completions") {
		return url
	}
	return url + "/chat/completions"
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// ChatCompletionRequest represents the request body for the chat completions API.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a message in the chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse represents the response from the chat completions API.
type ChatCompletionResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *APIError `json:"error,omitempty"`
}

// Choice represents a choice in the chat completion response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError represents an error response from the API.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Translate implements Provider.
func (p *OpenAIProvider) Translate(ctx context.Context, text, srcLang, tgtLang string) (string, *float64, error) {
	// Translations are rarely more than three times the source length.
	maxTokens := len(text)*3/4 + 64
	if maxTokens > 4096 {
		maxTokens = 4096
	}

	reqBody := ChatCompletionRequest{
		Model: p.model,
		Messages: []Message{
			{Role: "system", Content: buildSystemPrompt(srcLang, tgtLang)},
			{Role: "user", Content: text},
		},
		MaxTokens: maxTokens,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, NewPermanentError(p.Name(), "failed to marshal request body", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", nil, NewPermanentError(p.Name(), "failed to create HTTP request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", nil, NewTransientError(p.Name(), "API request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, NewTransientError(p.Name(), "failed to read API response", err)
	}

	if resp.StatusCode != http.StatusOK {
		logger.Warn("translation API returned error status",
			logger.Int("statusCode", resp.StatusCode),
			logger.String("model", p.model))
		return "", nil, handleAPIHTTPError(p.Name(), resp.StatusCode, body)
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", nil, NewTransientError(p.Name(), "failed to parse API response", err)
	}
	if chatResp.Error != nil {
		return "", nil, &TranslationError{Code: ErrResolveTransient, Provider: p.Name(), Message: "API returned error", Details: chatResp.Error.Message}
	}
	if len(chatResp.Choices) == 0 {
		return "", nil, NewTransientError(p.Name(), "API returned no choices", nil)
	}

	choice := chatResp.Choices[0]
	if choice.FinishReason == "length" {
		logger.Warn("translation output was truncated due to length limit",
			logger.Int("completionTokens", chatResp.Usage.CompletionTokens),
			logger.Int("inputLength", len(text)))
	}
	logger.Debug("translation API call successful",
		logger.Int("tokensUsed", chatResp.Usage.TotalTokens),
		logger.String("finishReason", choice.FinishReason))

	return cleanTranslationResult(choice.Message.Content), nil, nil
}

// handleAPIHTTPError converts a non-200 response into a classified error.
func handleAPIHTTPError(provider string, statusCode int, body []byte) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	details := fmt.Sprintf("status %d", statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		details = errResp.Error.Message
	}
	return classifyStatus(provider, statusCode, details)
}
