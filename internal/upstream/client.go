// Package upstream speaks the Vertical Studio chat protocol: session
// creation, prompt submission and the tag-prefixed line stream that carries
// the reply.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// promptPath is the endpoint that accepts a prompt and streams the reply.
const promptPath = "/api/chat/prompt/text"

// authCookieName carries the upstream credential. Vertical authenticates
// browser sessions via this Supabase cookie rather than an Authorization
// header.
const authCookieName = "sb-ppdjlmajmpcqpkdmnzfd-auth-token"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// errorBodyLimit bounds how much of an upstream failure body is surfaced.
const errorBodyLimit = 200

// StatusError reports a non-success upstream HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Client calls the Vertical Studio API. The transport chain is injected so
// tests can run without network access.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an upstream client rooted at baseURL. A nil transport
// falls back to http.DefaultTransport.
//
// Client.Timeout stays zero so long-lived reply streams are bounded by the
// caller's context rather than a fixed deadline.
func NewClient(baseURL string, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Transport: transport},
	}
}

// sessionResponse is the body returned by a session creation call.
type sessionResponse struct {
	ID   string `json:"id"`
	Chat struct {
		ID string `json:"id"`
	} `json:"chat"`
}

// CreateSession asks the upstream for a fresh chat session bound to the
// given model endpoint and returns its opaque id.
func (c *Client) CreateSession(ctx context.Context, endpoint, credential string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		return "", fmt.Errorf("creating session request: %w", err)
	}
	c.setHeaders(req, credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("session request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decoding session response: %w", err)
	}

	switch {
	case sr.Chat.ID != "":
		return sr.Chat.ID, nil
	case sr.ID != "":
		return sr.ID, nil
	default:
		return "", fmt.Errorf("session response carries no chat id")
	}
}

// promptMessage is the user turn submitted to the prompt endpoint.
type promptMessage struct {
	ID        string        `json:"id"`
	CreatedAt string        `json:"createdAt"`
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	Parts     []promptPart  `json:"parts"`
}

type promptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// promptSettings mirrors the settings object the upstream UI sends. Unused
// toggles stay at their null/false defaults.
type promptSettings struct {
	ModelID            string  `json:"modelId"`
	Reasoning          bool    `json:"reasoning"`
	ToneOfVoice        *string `json:"toneOfVoice"`
	WebSearch          bool    `json:"webSearch"`
	SystemPromptPreset *string `json:"systemPromptPreset"`
	CustomSystemPrompt *string `json:"customSystemPrompt"`
}

type promptRequest struct {
	Message  promptMessage  `json:"message"`
	Chat     string         `json:"chat"`
	Settings promptSettings `json:"settings"`
}

// Send submits text to an existing session and returns the raw reply stream
// in the line-tag wire format consumed by Scan. The caller owns the returned
// body and must close it. Non-success responses return a *StatusError with a
// truncated copy of the body.
func (c *Client) Send(ctx context.Context, credential, sessionID, text, modelID string, wantReasoning bool, systemPrompt string) (io.ReadCloser, error) {
	var customPrompt *string
	if systemPrompt != "" {
		customPrompt = &systemPrompt
	}

	payload := promptRequest{
		Message: promptMessage{
			ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
			Role:      "user",
			Content:   text,
			Parts:     []promptPart{{Type: "text", Text: text}},
		},
		Chat: sessionID,
		Settings: promptSettings{
			ModelID:            modelID,
			Reasoning:          wantReasoning,
			CustomSystemPrompt: customPrompt,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling prompt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+promptPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating prompt request: %w", err)
	}
	c.setHeaders(req, credential)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prompt request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	return resp.Body, nil
}

func (c *Client) setHeaders(req *http.Request, credential string) {
	req.Header.Set("Cookie", authCookieName+"="+credential)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	return string(b)
}
