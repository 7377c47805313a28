package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport captures the outgoing request and returns a canned
// response without touching the network.
type recordingTransport struct {
	req    *http.Request
	body   []byte
	status int
	resp   string
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.req = req
	if req.Body != nil {
		t.body, _ = io.ReadAll(req.Body)
	}
	return &http.Response{
		StatusCode: t.status,
		Body:       io.NopCloser(strings.NewReader(t.resp)),
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Request:    req,
	}, nil
}

func TestCreateSession(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		resp    string
		want    string
		wantErr bool
	}{
		{"nested chat id", 200, `{"chat":{"id":"cmfr5nvs312v8"}}`, "cmfr5nvs312v8", false},
		{"flat id", 200, `{"id":"chat-77"}`, "chat-77", false},
		{"missing id", 200, `{}`, "", true},
		{"upstream failure", 502, `bad gateway`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &recordingTransport{status: tt.status, resp: tt.resp}
			c := NewClient("https://app.vertical.example", tr)

			id, err := c.CreateSession(context.Background(), "https://app.vertical.example/models/alpha", "tok-1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
			assert.Equal(t, "https://app.vertical.example/models/alpha", tr.req.URL.String())
		})
	}
}

func TestSendRequestShape(t *testing.T) {
	tr := &recordingTransport{status: 200, resp: `d:{"type":"done"}` + "\n"}
	c := NewClient("https://app.vertical.example/", tr)

	body, err := c.Send(context.Background(), "tok-1", "chat-1", "Hi there", "model-alpha", true, "You are terse.")
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "https://app.vertical.example/api/chat/prompt/text", tr.req.URL.String())
	assert.Equal(t, http.MethodPost, tr.req.Method)
	assert.Contains(t, tr.req.Header.Get("Cookie"), authCookieName+"=tok-1")
	assert.Equal(t, "text/event-stream", tr.req.Header.Get("Accept"))

	var payload promptRequest
	require.NoError(t, json.Unmarshal(tr.body, &payload))
	assert.Equal(t, "chat-1", payload.Chat)
	assert.Equal(t, "user", payload.Message.Role)
	assert.Equal(t, "Hi there", payload.Message.Content)
	require.Len(t, payload.Message.Parts, 1)
	assert.Equal(t, "Hi there", payload.Message.Parts[0].Text)
	assert.NotEmpty(t, payload.Message.ID)
	assert.Equal(t, "model-alpha", payload.Settings.ModelID)
	assert.True(t, payload.Settings.Reasoning)
	require.NotNil(t, payload.Settings.CustomSystemPrompt)
	assert.Equal(t, "You are terse.", *payload.Settings.CustomSystemPrompt)
}

func TestSendOmitsEmptySystemPrompt(t *testing.T) {
	tr := &recordingTransport{status: 200, resp: ""}
	c := NewClient("https://app.vertical.example", tr)

	body, err := c.Send(context.Background(), "tok-1", "chat-1", "Hi", "model-alpha", false, "")
	require.NoError(t, err)
	defer body.Close()

	var payload map[string]any
	require.NoError(t, json.Unmarshal(tr.body, &payload))
	settings := payload["settings"].(map[string]any)
	assert.Nil(t, settings["customSystemPrompt"])
}

func TestSendNonSuccessStatus(t *testing.T) {
	tr := &recordingTransport{status: 429, resp: strings.Repeat("too many requests ", 50)}
	c := NewClient("https://app.vertical.example", tr)

	_, err := c.Send(context.Background(), "tok-1", "chat-1", "Hi", "model-alpha", false, "")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 429, statusErr.StatusCode)
	assert.LessOrEqual(t, len(statusErr.Body), errorBodyLimit)
}
