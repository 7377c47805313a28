// Package openaiadapter defines the OpenAI-compatible request/response
// surface of the gateway and the contract adapters implement to serve it.
//
// The types are hand-written rather than generated from the OpenAI OpenAPI
// spec: the gateway accepts only the role+text message shape the upstream
// can represent, and plain structs with pointer-optional fields decode
// naturally with encoding/json. Generating the full spec would produce
// hundreds of unused union types for this handful of structs.
package openaiadapter

import (
	"context"
	"iter"
	"net/http"
)

// Adapter transforms client requests into provider API calls and translates
// the provider's replies back.
//
// Type parameters:
//   - TRequest:  client-facing request structure
//   - TResponse: client-facing buffered response structure
//   - TChunk:    client-facing streaming chunk structure
type Adapter[TRequest, TResponse, TChunk any] interface {
	// ProcessRequest transforms the client request, calls the provider API,
	// and returns the fully aggregated response.
	ProcessRequest(ctx context.Context, clientReq TRequest, transport http.RoundTripper) (*TResponse, error)

	// ProcessStreamingRequest transforms the client request, calls the
	// provider streaming API, and returns a single-pass iterator of
	// translated chunks. The iterator yields a terminal chunk exactly once,
	// for success and failure alike.
	ProcessStreamingRequest(ctx context.Context, clientReq TRequest, transport http.RoundTripper) (iter.Seq2[*TChunk, error], error)
}

// CreateChatCompletionAdapter is the concrete adapter contract for the chat
// completion operation.
type CreateChatCompletionAdapter = Adapter[
	CreateChatCompletionRequest,
	CreateChatCompletionResponse,
	CreateChatCompletionChunk,
]
