package translator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"doc-translator/internal/types"
)

// Provider names accepted in configuration.
const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
	ProviderEino   = "eino"
)

// DefaultConfidence is used when a provider reports no confidence.
const DefaultConfidence = 0.5

// Provider is a machine translation backend. A nil confidence means the
// provider does not report one. Errors should be TranslationErrors so the
// resolver can tell transient failures from permanent ones.
type Provider interface {
	Name() string
	Translate(ctx context.Context, text, srcLang, tgtLang string) (translated string, confidence *float64, err error)
}

// NewProvider builds the provider selected in cfg.
func NewProvider(ctx context.Context, cfg *types.Config) (Provider, error) {
	t := cfg.Translation
	timeout := time.Duration(t.TimeoutSeconds) * time.Second
	switch strings.ToLower(t.Provider) {
	case "", ProviderMock:
		return NewMockProvider(), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(t.OpenAIAPIKey, t.OpenAIModel, t.OpenAIBaseURL, timeout), nil
	case ProviderEino:
		return NewEinoProvider(ctx, t.OpenAIAPIKey, t.OpenAIModel, t.OpenAIBaseURL, timeout)
	default:
		return nil, types.NewAppError(types.ErrConfig, fmt.Sprintf("unknown translation provider %q", t.Provider), nil)
	}
}

// MockProvider answers "[TGT] text" without calling anything.
type MockProvider struct{}

// NewMockProvider creates the offline provider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

func (*MockProvider) Name() string { return ProviderMock }

// Translate implements Provider.
func (*MockProvider) Translate(_ context.Context, text, _, tgtLang string) (string, *float64, error) {
	confidence := 0.95
	return "[" + strings.ToUpper(tgtLang) + "] " + text, &confidence, nil
}

// languageName returns a prompt friendly language label.
func languageName(lang string) string {
	if AnyLanguage(lang) {
		return "the detected source language"
	}
	return lang
}

func buildSystemPrompt(srcLang, tgtLang string) string {
	return fmt.Sprintf(`You are a professional document translator.
Translate the user's text from %s to %s.
Keep numbers, symbols, names and placeholders unchanged.
Reply with the translation only, without quotes or explanations.`, languageName(srcLang), tgtLang)
}

// cleanTranslationResult strips wrapping quotes and code fences some
// models add around the answer.
func cleanTranslationResult(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' && strings.Count(s, `"`) == 2 {
		s = s[1 : len(s)-1]
	}
	return s
}

// classifyStatus maps an HTTP status to a transient or permanent error.
func classifyStatus(provider string, status int, details string) *TranslationError {
	switch {
	case status == 429:
		return &TranslationError{Code: ErrResolveTransient, Provider: provider, Message: "API rate limit exceeded", Details: details}
	case status >= 500:
		return &TranslationError{Code: ErrResolveTransient, Provider: provider, Message: fmt.Sprintf("API server error (status %d)", status), Details: details}
	case status == 401 || status == 403:
		return NewPermanentError(provider, "API authentication failed", details, nil)
	case status == 408:
		return &TranslationError{Code: ErrResolveTransient, Provider: provider, Message: "API request timed out", Details: details}
	default:
		return NewPermanentError(provider, fmt.Sprintf("API rejected the request (status %d)", status), details, nil)
	}
}

var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

// classifyError classifies an error whose message may carry an HTTP status.
func classifyError(provider string, err error) *TranslationError {
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		te := classifyStatus(provider, status, "")
		te.Cause = err
		return te
	}
	return NewTransientError(provider, "request failed", err)
}
