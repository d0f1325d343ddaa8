package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/llm"
)

var _ llm.Extractor = (*Client)(nil)

// ExtractImage implements llm.Extractor using a vision chat completion.
// The image is sent inline as a data URL.
func (c *Client) ExtractImage(ctx context.Context, image []byte, mimeType string, opts llm.ExtractOptions) (llm.ReceiptFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	if len(image) == 0 {
		return llm.ReceiptFields{}, nil, common.Invalidf("image is empty")
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"image_bytes", len(image),
		"mime", mimeType,
		"allowed_categories", len(opts.AllowedCategories),
		"default_currency", opts.DefaultCurrency,
	)

	schema := llm.BuildReceiptJSONSchema(opts.AllowedCategories)
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(opts)},
			{Role: openai.ChatMessageRoleSystem, Content: "JSON Schema:\n" + mustJSON(schema)},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Extract the receipt fields from this image. Return ONLY JSON that matches the provided schema."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailAuto}},
				},
			},
		},
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		err = classify(err)
		c.logger.Error("llm.extract.api_error",
			"req_id", rid, "error", err,
			"exhausted", errors.Is(err, common.ErrExtractionExhausted),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ReceiptFields{}, nil, err
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("llm.extract.no_choices",
			"req_id", rid, "elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ReceiptFields{}, nil, fmt.Errorf("no choices in openai response")
	}
	rawContent := []byte(strings.TrimSpace(resp.Choices[0].Message.Content))

	// Validate strictly first.
	if err := llm.ValidateJSONAgainstSchema(schema, rawContent); err != nil {
		if !c.cfg.LenientOptional {
			c.logger.Error("llm.extract.schema_validation_failed",
				"req_id", rid, "error", err, "content", string(rawContent),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return llm.ReceiptFields{}, rawContent, fmt.Errorf("schema validation failed: %w", err)
		}
		cleaned, dropped, sErr := llm.NormalizeAndSanitizeJSON(rawContent, c.logger)
		if sErr != nil {
			c.logger.Error("llm.extract.sanitize_failed",
				"req_id", rid, "error", sErr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return llm.ReceiptFields{}, rawContent, fmt.Errorf("sanitize failed: %w", sErr)
		}
		if vErr := llm.ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			c.logger.Error("llm.extract.schema_validation_failed",
				"req_id", rid, "error", vErr, "content", string(cleaned),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return llm.ReceiptFields{}, cleaned, fmt.Errorf("schema validation failed: %w", vErr)
		}
		c.logger.Warn("llm.extract.lenient_sanitize_applied",
			"req_id", rid, "dropped", dropped,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		rawContent = cleaned
	}

	var out llm.ReceiptFields
	if err := json.Unmarshal(rawContent, &out); err != nil {
		c.logger.Error("llm.extract.unmarshal_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ReceiptFields{}, rawContent, fmt.Errorf("unmarshal fields: %w", err)
	}

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"merchant", out.MerchantName,
		"date", out.TxDate,
		"total", out.Total,
		"currency", out.CurrencyCode,
		"category", out.Category,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, rawContent, nil
}

// classify maps rate limiting and exhausted credit onto ErrExtractionExhausted
// so batch callers stop instead of burning through the queue.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.Type == "insufficient_quota" || apiErr.Code == "insufficient_quota" {
			return fmt.Errorf("openai: %s: %w", apiErr.Message, common.ErrExtractionExhausted)
		}
		return fmt.Errorf("openai status %d: %w", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("openai: rate limited: %w", common.ErrExtractionExhausted)
		}
		return fmt.Errorf("openai status %d: %w", reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("openai request: %w", err)
}

func buildSystemPrompt(opts llm.ExtractOptions) string {
	var catLine string
	if len(opts.AllowedCategories) > 0 {
		catLine = "Allowed categories (enum): " + strings.Join(opts.AllowedCategories, ", ") + "."
	} else {
		catLine = "Category must be a short, sensible label if present."
	}
	currency := opts.DefaultCurrency
	if currency == "" {
		currency = constants.DefaultCurrency
	}

	parts := []string{
		"You are a receipts parser. Return ONLY JSON that matches the JSON Schema provided.",
		"Use ISO-8601 dates (YYYY-MM-DD) for tx_date.",
		"Currency must be a 3-letter ISO 4217 code; default to " + currency + " if uncertain.",
		catLine,
		"total is the final amount paid as a positive decimal string with at most two decimals.",
		"If the document is a refund or return, set tx_type to refund and keep total positive.",
		"For 'description', write a few words describing the purchase. Avoid addresses, timestamps, names.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
