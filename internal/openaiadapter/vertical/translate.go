package vertical

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/verticalgw/vertigate/internal/convcache"
	"github.com/verticalgw/vertigate/internal/openaiadapter"
	"github.com/verticalgw/vertigate/internal/upstream"
)

// reasoningPrefix marks thinking fragments when they are folded into the
// plain content channel of a buffered response.
const reasoningPrefix = "[Thinking]: "

const finishReasonStop = "stop"

// stream runs the upstream exchange and translates the reply line stream
// into OpenAI chunks. All upstream I/O happens lazily inside the returned
// sequence so transport failures surface as a terminal error chunk instead
// of an HTTP-level error, keeping already-started SSE responses well formed.
func (t *turn) stream(ctx context.Context) iter.Seq2[*openaiadapter.CreateChatCompletionChunk, error] {
	return func(yield func(*openaiadapter.CreateChatCompletionChunk, error) bool) {
		client := upstream.NewClient(t.adapter.BaseURL, t.transport)

		if t.sessionID == "" {
			sessionID, err := client.CreateSession(ctx, t.model.UpstreamURL, t.token)
			if err != nil {
				t.adapter.Metrics.UpstreamErrors.Inc()
				slog.ErrorContext(ctx, "upstream session creation failed", "error", err)
				yield(t.errorChunk("Error: failed to create upstream session: "+err.Error()), nil)
				return
			}
			t.sessionID = sessionID
		}

		body, err := client.Send(ctx, t.token, t.sessionID, t.sendText,
			t.model.UpstreamModelID, t.model.Reasoning, t.systemPrompt)
		if err != nil {
			t.adapter.Metrics.UpstreamErrors.Inc()
			slog.ErrorContext(ctx, "upstream prompt failed", "error", err)
			yield(t.errorChunk("Error: upstream request failed: "+err.Error()), nil)
			return
		}
		defer func() { _ = body.Close() }()

		// reply accumulates content fragments only. The committed assistant
		// fingerprint must cover exactly the text a client echoes back on its
		// next request, which excludes the reasoning channel.
		var (
			reply     strings.Builder
			sentFirst bool
		)
		for line := range upstream.Scan(body) {
			switch line.Kind {
			case upstream.LineContent:
				reply.WriteString(line.Text)
				if !yield(t.deltaChunk(&sentFirst, line.Text, false), nil) {
					return
				}

			case upstream.LineReasoning:
				if !t.model.Reasoning {
					continue
				}
				if !yield(t.deltaChunk(&sentFirst, line.Text, true), nil) {
					return
				}

			case upstream.LineError:
				t.adapter.Metrics.UpstreamErrors.Inc()
				slog.ErrorContext(ctx, "upstream reported error", "message", line.Message)
				yield(t.errorChunk("Error: "+line.Message), nil)
				return

			case upstream.LineDone:
				t.commit(ctx, reply.String())
				yield(t.finishChunk(&sentFirst), nil)
				return
			}
		}
	}
}

// aggregate consumes the full streaming exchange and folds it into one
// buffered response. Reasoning fragments are prefixed and placed ahead of
// the answer content, matching what a streaming client would reassemble.
func (t *turn) aggregate(ctx context.Context) (*openaiadapter.CreateChatCompletionResponse, error) {
	var reasoning, content strings.Builder
	finish := finishReasonStop

	for chunk, err := range t.stream(ctx) {
		if err != nil {
			return nil, err
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.ReasoningContent != nil {
				reasoning.WriteString(reasoningPrefix + *choice.Delta.ReasoningContent)
			}
			if choice.Delta.Content != nil {
				content.WriteString(*choice.Delta.Content)
			}
			if choice.FinishReason != nil {
				finish = *choice.FinishReason
			}
		}
	}

	return &openaiadapter.CreateChatCompletionResponse{
		ID:      t.id,
		Object:  "chat.completion",
		Created: t.created,
		Model:   t.reqModel,
		Choices: []openaiadapter.ChatCompletionChoice{{
			Message: openaiadapter.ChatMessage{
				Role:    "assistant",
				Content: reasoning.String() + content.String(),
			},
			FinishReason: finish,
		}},
	}, nil
}

// commit records the completed turn in the affinity cache so the follow-up
// request can be routed back into this session.
func (t *turn) commit(ctx context.Context, assistantReply string) {
	assistantFP := convcache.Fingerprint("assistant", assistantReply)

	if t.matchedKey != "" {
		t.adapter.Cache.Extend(t.matchedKey,
			convcache.Fingerprint("user", t.latestUser), assistantFP)
		t.adapter.Metrics.SessionsReused.Inc()
		return
	}

	fps := make([]string, 0, len(t.messages)+1)
	for _, m := range t.messages {
		if m.Role == "system" {
			continue
		}
		fps = append(fps, convcache.Fingerprint(m.Role, m.Content))
	}
	fps = append(fps, assistantFP)

	t.adapter.Cache.Put(uuid.NewString(), convcache.Record{
		SessionID:    t.sessionID,
		Endpoint:     t.model.UpstreamURL,
		SystemSig:    t.systemSig,
		Fingerprints: fps,
	})
	t.adapter.Metrics.SessionsCreated.Inc()
	slog.DebugContext(ctx, "created upstream session",
		"session_id", t.sessionID, "turns", len(fps))
}

// deltaChunk builds one incremental chunk. The first chunk of a turn carries
// the assistant role; reasoning fragments go out on the separate
// reasoning_content channel.
func (t *turn) deltaChunk(sentFirst *bool, text string, reasoning bool) *openaiadapter.CreateChatCompletionChunk {
	delta := openaiadapter.StreamDelta{}
	if !*sentFirst {
		delta.Role = "assistant"
		*sentFirst = true
	}
	if reasoning {
		delta.ReasoningContent = &text
	} else {
		delta.Content = &text
	}
	return t.chunk(openaiadapter.ChatCompletionChunkChoice{Delta: delta})
}

// finishChunk is the terminal chunk of a successful turn: empty delta with a
// stop finish reason.
func (t *turn) finishChunk(sentFirst *bool) *openaiadapter.CreateChatCompletionChunk {
	delta := openaiadapter.StreamDelta{}
	if !*sentFirst {
		delta.Role = "assistant"
		*sentFirst = true
	}
	finish := finishReasonStop
	return t.chunk(openaiadapter.ChatCompletionChunkChoice{Delta: delta, FinishReason: &finish})
}

// errorChunk folds an upstream failure into a single well-formed assistant
// chunk so SDK clients render the failure as message text instead of
// aborting mid-stream. The affinity cache is left untouched: a failed turn
// never extends or creates a record.
func (t *turn) errorChunk(message string) *openaiadapter.CreateChatCompletionChunk {
	finish := finishReasonStop
	return t.chunk(openaiadapter.ChatCompletionChunkChoice{
		Delta:        openaiadapter.StreamDelta{Role: "assistant", Content: &message},
		FinishReason: &finish,
	})
}

func (t *turn) chunk(choice openaiadapter.ChatCompletionChunkChoice) *openaiadapter.CreateChatCompletionChunk {
	return &openaiadapter.CreateChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.reqModel,
		Choices: []openaiadapter.ChatCompletionChunkChoice{choice},
	}
}
