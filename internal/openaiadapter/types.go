package openaiadapter

// ChatMessage is one ordered turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// CreateChatCompletionRequest is the inbound chat completion request.
// Optional sampling parameters are accepted for wire compatibility; the
// upstream protocol has no equivalents, so they are not forwarded.
type CreateChatCompletionRequest struct {
	Model       string        `json:"model" validate:"required"`
	Messages    []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	Stream      *bool         `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

// CompletionUsage reports token accounting. The upstream does not expose
// token counts, so all fields stay zero.
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChoice is one alternative in a buffered response. This
// gateway always produces exactly one.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// CreateChatCompletionResponse is the buffered (non-streaming) response.
type CreateChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   CompletionUsage        `json:"usage"`
}

// StreamDelta is the incremental payload of one streaming chunk. Role is set
// only on the first chunk of a turn. Content and ReasoningContent are
// separate channels; a chunk carries at most one of them.
type StreamDelta struct {
	Role             string  `json:"role,omitempty"`
	Content          *string `json:"content,omitempty"`
	ReasoningContent *string `json:"reasoning_content,omitempty"`
}

// ChatCompletionChunkChoice is one alternative in a streaming chunk.
type ChatCompletionChunkChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason,omitempty"`
}

// CreateChatCompletionChunk is one streaming response event. The stream's
// final chunk carries an empty delta and a finish reason; the transport then
// appends the [DONE] sentinel.
type CreateChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// Model is one entry of the model listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the response of the model listing endpoint.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
