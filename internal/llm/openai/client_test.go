package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/llm"
)

type fakeAPI struct {
	content string
	err     error
	got     openai.ChatCompletionRequest
}

func (f *fakeAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

var png = []byte("\x89PNG\r\n\x1a\n0000")

func TestExtractImage_OK(t *testing.T) {
	api := &fakeAPI{content: `{"merchant_name":"Costco","tx_date":"2024-03-01","total":"54.20","currency_code":"USD","category":"Groceries"}`}
	c := newClient(Config{Model: "gpt-4o-mini"}, api, nil)

	out, raw, err := c.ExtractImage(context.Background(), png, "", llm.ExtractOptions{AllowedCategories: []string{"Groceries", "Other"}})
	require.NoError(t, err)
	assert.Equal(t, "Costco", out.MerchantName)
	assert.Equal(t, "54.20", out.Total)
	assert.NotEmpty(t, raw)

	require.Len(t, api.got.Messages, 3)
	parts := api.got.Messages[2].MultiContent
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, api.got.ResponseFormat.Type)
}

func TestExtractImage_LenientSanitize(t *testing.T) {
	content := `{"merchant":"Costco","total":12.5,"currency_code":"usd","tip":"1.00"}`

	strict := newClient(Config{}, &fakeAPI{content: content}, nil)
	_, _, err := strict.ExtractImage(context.Background(), png, "image/png", llm.ExtractOptions{})
	assert.Error(t, err)

	lenient := newClient(Config{LenientOptional: true}, &fakeAPI{content: content}, nil)
	out, _, err := lenient.ExtractImage(context.Background(), png, "image/png", llm.ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Costco", out.MerchantName)
	assert.Equal(t, "12.50", out.Total)
	assert.Equal(t, "USD", out.CurrencyCode)
}

func TestExtractImage_ExhaustionIsClassified(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		exhausted bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}, true},
		{"no credit", &openai.APIError{HTTPStatusCode: http.StatusForbidden, Type: "insufficient_quota"}, true},
		{"request 429", &openai.RequestError{HTTPStatusCode: http.StatusTooManyRequests, Err: errors.New("429")}, true},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusInternalServerError}, false},
		{"network", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(Config{}, &fakeAPI{err: tt.err}, nil)
			_, _, err := c.ExtractImage(context.Background(), png, "image/png", llm.ExtractOptions{})
			require.Error(t, err)
			assert.Equal(t, tt.exhausted, errors.Is(err, common.ErrExtractionExhausted))
			assert.Equal(t, tt.exhausted, errors.Is(err, common.ErrQuotaExceeded))
		})
	}
}

func TestExtractImage_EmptyImage(t *testing.T) {
	c := newClient(Config{}, &fakeAPI{}, nil)
	_, _, err := c.ExtractImage(context.Background(), nil, "image/png", llm.ExtractOptions{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
