// Package vertical adapts OpenAI chat completion requests to the Vertical
// Studio backend, enabling OpenAI SDK clients to talk to it without code
// changes.
//
// Vertical is stateful: every exchange belongs to a server-side chat session.
// The adapter bridges that to the stateless OpenAI shape with a conversation
// affinity cache — on each request it fingerprints the incoming history and
// either routes the newest user message into the session that already holds
// that history, or creates a fresh session and replays the reconstructed
// history into it.
//
// The reply arrives as a tag-prefixed line stream and is translated into
// OpenAI streaming chunks, with the upstream's reasoning channel surfaced as
// reasoning_content deltas when the requested model variant asks for it.
package vertical
