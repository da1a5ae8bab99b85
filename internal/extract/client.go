package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/glebrm/inspect-backend/internal/config"
	"github.com/glebrm/inspect-backend/internal/records"
)

// ErrExtraction covers every failure of the AI collaborator: transport,
// provider errors and unparsable output.
var ErrExtraction = errors.New("act extraction failed")

// Result is the structured output of one act extraction. Card always has
// owner, defects and metadata populated; Errors and Warnings carry the
// model's own remarks about unreadable or ambiguous parts.
type Result struct {
	Card     records.Record `json:"apartment_card"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
}

// Extractor turns a captured act photo into a structured record skeleton.
type Extractor interface {
	ProcessAct(ctx context.Context, image []byte, mimeType string) (*Result, error)
}

const systemPrompt = `You are an engineering assistant that digitizes handwritten apartment acceptance acts.
From the photo of the act, extract structured data. Rules:
1. Extract the house number, apartment number and acceptance date.
2. The owner's phone number may be written anywhere on the sheet, not only next to the name. Find any phone number and attach it to the card. Normalize Belarusian numbers to +375...
3. Extract the numbered list of defects, following the act's own numbering order.
4. Assign each defect one category from: walls, floor, ceiling, doors, windows, plumbing, electrical, heating, ventilation, finishing, tiles, paint, other. Keep the description field as the clean defect text from the act.
5. Assign severity: low, medium, high or critical, and a suggested deadline in days.
6. Normalize the date to YYYY-MM-DD. Use null for anything unreadable.
7. Put the full recognized text into metadata.source_ocr_text.
Respond with ONLY a JSON object, no extra text, matching exactly:
{"apartment_card":{"house_number":string|null,"apartment_number":string|null,"acceptance_date":string|null,"owner":{"full_name":string|null,"phone":string|null},"act_photos":[],"defects":[{"id":string,"text_raw":string,"description":string,"category":string,"severity":string,"suggested_deadline_days":int,"photo_refs":[string],"location_in_apartment":string|null,"confidence":number}],"metadata":{"source_ocr_text":string,"processing_timestamp":string,"image_gps":{"lat":number|null,"lon":number|null}},"comments":[]},"errors":[string],"warnings":[string]}`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content interface{} `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// VisionClient calls an OpenAI-compatible vision chat endpoint, trying the
// primary provider first and falling back to the secondary one.
type VisionClient struct {
	cfg *config.Config
}

func NewVisionClient(cfg *config.Config) *VisionClient {
	return &VisionClient{cfg: cfg}
}

func (c *VisionClient) ProcessAct(ctx context.Context, image []byte, mimeType string) (*Result, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrExtraction)
	}

	var lastErr error
	if c.cfg.GLMAPIKey != "" {
		result, err := c.callProvider(ctx, c.cfg.GLMAPIURL, c.cfg.GLMAPIKey, c.cfg.GLMVisionModel, image, mimeType)
		if err == nil {
			return result, nil
		}
		slog.Warn("primary extraction provider failed", "error", err)
		lastErr = err
	}

	if c.cfg.DeepSeekAPIKey != "" {
		result, err := c.callProvider(ctx, c.cfg.DeepSeekAPIURL, c.cfg.DeepSeekAPIKey, c.cfg.DeepSeekModel, image, mimeType)
		if err == nil {
			return result, nil
		}
		slog.Warn("fallback extraction provider failed", "error", err)
		lastErr = err
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: no AI provider configured", ErrExtraction)
}

func (c *VisionClient) callProvider(ctx context.Context, apiURL, apiKey, model string, image []byte, mimeType string) (*Result, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	imgURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []chatContentPart{
				{Type: "text", Text: "Analyze this handwritten acceptance act. Recognize all text and structure the defects."},
				{Type: "image_url", ImageURL: &chatImageURL{URL: imgURL, Detail: "high"}},
			}},
		},
		Temperature: 0.1,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	timeout := c.cfg.AITimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: provider status %d", ErrExtraction, resp.StatusCode)
	}

	var completion chatResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrExtraction)
	}

	content, err := contentString(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return ParseResult(content)
}

func contentString(v interface{}) (string, error) {
	switch c := v.(type) {
	case string:
		return c, nil
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("%w: unreadable completion content", ErrExtraction)
		}
		return string(b), nil
	}
}

// ParseResult turns raw model output into a Result. Tolerates markdown
// fences and stray prose around the JSON object; normalizes categories,
// severities and confidences; backfills ids for defects the model left
// without one.
func ParseResult(content string) (*Result, error) {
	content = stripFences(content)

	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		start := strings.Index(content, "{")
		end := strings.LastIndex(content, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		if err2 := json.Unmarshal([]byte(content[start:end+1]), &result); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtraction, err2)
		}
	}

	now := time.Now()
	for i := range result.Card.Defects {
		d := &result.Card.Defects[i]
		if d.ID == "" {
			d.ID = fmt.Sprintf("gen-%d-%d", now.UnixMilli(), i)
		}
		d.Category = records.NormalizeCategory(string(d.Category))
		d.Severity = records.NormalizeSeverity(string(d.Severity))
		if d.SuggestedDeadlineDays < 0 {
			d.SuggestedDeadlineDays = 0
		}
		d.Confidence = clamp01(d.Confidence)
	}
	if result.Card.Metadata.ProcessingTimestamp == "" {
		result.Card.Metadata.ProcessingTimestamp = now.UTC().Format(time.RFC3339)
	}
	records.NormalizeLegacy(&result.Card, now)
	if result.Errors == nil {
		result.Errors = []string{}
	}
	if result.Warnings == nil {
		result.Warnings = []string{}
	}

	return &result, nil
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
