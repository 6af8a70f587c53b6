package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 64
	apiURL           = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"

	// bodyPrefixLimit bounds how much body text is sent per classification.
	bodyPrefixLimit = 500
)

// Input is the message excerpt submitted for classification.
type Input struct {
	Subject string
	From    string
	Body    string
}

// Classifier maps a message excerpt to a label string. The returned label
// is raw model output; callers decide whether it names a known category.
// An empty string means the classifier produced no usable answer.
type Classifier interface {
	Classify(ctx context.Context, in Input) (string, error)
}

// AnthropicClassifier asks the Claude Messages API for exactly one label
// from the known category set.
type AnthropicClassifier struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	client    *http.Client
}

// NewAnthropicClassifier creates a classifier client. An empty model name
// selects the default model.
func NewAnthropicClassifier(
	apiKey string,
	modelName string,
	maxTokens int,
) *AnthropicClassifier {
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &AnthropicClassifier{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		baseURL:   apiURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

const systemPrompt = "You label sales-inbox emails. Reply with exactly one " +
	"word from this list and nothing else: Interested, MeetingBooked, " +
	"NotInterested, Spam, OutOfOffice. If none fit, reply Unknown."

// Classify submits the excerpt and returns the model's raw label text.
// The body is truncated to a bounded prefix before sending.
func (c *AnthropicClassifier) Classify(
	ctx context.Context,
	in Input,
) (string, error) {
	if c.apiKey == "" {
		return "", &ConfigError{Message: "no API key configured"}
	}

	body := in.Body
	if len(body) > bodyPrefixLimit {
		body = body[:bodyPrefixLimit]
	}

	userMsg := fmt.Sprintf(
		"Subject: %s\nFrom: %s\nBody:\n%s",
		in.Subject, in.From, body,
	)

	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages: []apiMessage{
			{
				Role:    "user",
				Content: []apiContentBlock{{Type: "text", Text: userMsg}},
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling classifier API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, respBody)
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	var textParts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}

	return strings.TrimSpace(strings.Join(textParts, "")), nil
}

// statusError maps an HTTP error status to the classifier error taxonomy.
func statusError(status int, body []byte) error {
	msg := string(body)
	var apiErr apiErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Message: msg}
	case http.StatusTooManyRequests:
		return &QuotaError{Message: msg}
	case http.StatusNotFound:
		return &ConfigError{Message: msg}
	default:
		return fmt.Errorf("API error (%d): %s", status, msg)
	}
}

// --- Claude API types ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
