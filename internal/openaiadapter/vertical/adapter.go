package vertical

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verticalgw/vertigate/internal/catalog"
	"github.com/verticalgw/vertigate/internal/convcache"
	"github.com/verticalgw/vertigate/internal/metrics"
	"github.com/verticalgw/vertigate/internal/openaiadapter"
)

// TokenSource supplies upstream credentials, one per request.
type TokenSource interface {
	Next() (string, error)
}

// Adapter implements the chat completion operation against Vertical Studio.
type Adapter struct {
	BaseURL string
	Catalog *catalog.Catalog
	Tokens  TokenSource
	Cache   *convcache.Cache
	Metrics *metrics.Metrics
}

// Compile-time check that Adapter satisfies the adapter contract.
var _ openaiadapter.CreateChatCompletionAdapter = (*Adapter)(nil)

// ProcessRequest serves a non-streaming chat completion: the upstream reply
// stream is consumed in full and returned as one aggregated response.
func (a *Adapter) ProcessRequest(
	ctx context.Context,
	clientReq openaiadapter.CreateChatCompletionRequest,
	transport http.RoundTripper,
) (*openaiadapter.CreateChatCompletionResponse, error) {
	t, err := a.prepare(ctx, clientReq, transport)
	if err != nil {
		return nil, err
	}
	return t.aggregate(ctx)
}

// ProcessStreamingRequest serves a streaming chat completion. The returned
// iterator is single-pass; it always ends with exactly one terminal chunk
// carrying a finish reason, for success and upstream failure alike.
func (a *Adapter) ProcessStreamingRequest(
	ctx context.Context,
	clientReq openaiadapter.CreateChatCompletionRequest,
	transport http.RoundTripper,
) (iter.Seq2[*openaiadapter.CreateChatCompletionChunk, error], error) {
	t, err := a.prepare(ctx, clientReq, transport)
	if err != nil {
		return nil, err
	}
	return t.stream(ctx), nil
}

// turn carries the per-request state from orchestration through translation
// to the cache update.
type turn struct {
	adapter   *Adapter
	transport http.RoundTripper

	id       string
	created  int64
	model    catalog.Model
	reqModel string

	token        string
	systemPrompt string
	systemSig    uint64

	// messages is the inbound history; latestUser the newest user message.
	messages   []openaiadapter.ChatMessage
	latestUser string

	// sendText is what goes upstream: the newest user message on session
	// reuse, the reconstructed history on session creation.
	sendText string

	// sessionID is set when an existing session is reused; matchedKey is
	// the cache key of the matched record, empty for new conversations.
	sessionID  string
	matchedKey string
}

// prepare resolves the model, authenticates against the credential pool and
// runs the conversation matcher. It performs no upstream I/O; client and
// configuration errors surface here as *openaiadapter.ErrorResponse, while
// upstream failures are deferred to the stream so they reach the caller as a
// terminal chunk.
func (a *Adapter) prepare(
	ctx context.Context,
	clientReq openaiadapter.CreateChatCompletionRequest,
	transport http.RoundTripper,
) (*turn, error) {
	model, ok := a.Catalog.Lookup(clientReq.Model)
	if !ok {
		return nil, openaiadapter.NewErrorResponse(openaiadapter.ErrTypeNotFound,
			fmt.Sprintf("model %q not found", clientReq.Model))
	}
	if model.UpstreamModelID == "" || model.UpstreamURL == "" {
		return nil, openaiadapter.NewErrorResponse(openaiadapter.ErrTypeServer,
			fmt.Sprintf("model %q has an incomplete upstream binding", clientReq.Model))
	}

	token, err := a.Tokens.Next()
	if err != nil {
		return nil, openaiadapter.NewErrorResponse(openaiadapter.ErrTypeServiceUnavailable,
			"no upstream auth tokens configured")
	}

	systemPrompt, latestUser := splitMessages(clientReq.Messages)
	if latestUser == "" {
		return nil, openaiadapter.NewErrorResponse(openaiadapter.ErrTypeInvalidRequest,
			"no user message found in request")
	}

	t := &turn{
		adapter:      a,
		transport:    transport,
		id:           newResponseID(),
		created:      time.Now().Unix(),
		model:        model,
		reqModel:     clientReq.Model,
		token:        token,
		systemPrompt: systemPrompt,
		systemSig:    convcache.SystemSignature(systemPrompt),
		messages:     clientReq.Messages,
		latestUser:   latestUser,
	}

	prior := priorTurnFingerprints(clientReq.Messages)
	if key, rec, ok := a.Cache.Match(model.UpstreamURL, t.systemSig, prior); ok {
		slog.DebugContext(ctx, "reusing upstream session",
			"session_id", rec.SessionID, "turns", len(rec.Fingerprints))
		t.matchedKey = key
		t.sessionID = rec.SessionID
		t.sendText = latestUser
		return t, nil
	}

	t.sendText = reconstructHistory(clientReq.Messages)
	if t.sendText == "" {
		t.sendText = latestUser
	}
	return t, nil
}

// splitMessages extracts the concatenated system prompt (order preserved)
// and the newest user message from the inbound history.
func splitMessages(messages []openaiadapter.ChatMessage) (systemPrompt, latestUser string) {
	var sys strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			sys.WriteString(m.Content)
			sys.WriteString("\n")
		case "user":
			latestUser = m.Content
		}
	}
	return strings.TrimSpace(sys.String()), latestUser
}

// priorTurnFingerprints fingerprints every user and assistant message except
// the final (newest) one. System messages are carried by the signature, not
// by fingerprints.
func priorTurnFingerprints(messages []openaiadapter.ChatMessage) []string {
	if len(messages) == 0 {
		return nil
	}
	fps := make([]string, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		if m.Role == "system" {
			continue
		}
		fps = append(fps, convcache.Fingerprint(m.Role, m.Content))
	}
	return fps
}

// reconstructHistory renders the conversation as role-labelled lines for the
// initial message of a fresh session, which has no server-side history yet.
func reconstructHistory(messages []openaiadapter.ChatMessage) string {
	var parts []string
	for _, m := range messages {
		switch m.Role {
		case "user":
			parts = append(parts, "User: "+m.Content)
		case "assistant":
			parts = append(parts, "Assistant: "+m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// newResponseID generates an OpenAI-compatible response id (chatcmpl-<token>).
func newResponseID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
