package upstream

import (
	"bufio"
	"encoding/json"
	"io"
	"iter"
	"strconv"
	"strings"
)

// maxLineBytes bounds a single logical line. Upstream content lines carry one
// token fragment each, so this is far above anything observed in practice.
const maxLineBytes = 1 << 20

// LineKind classifies a logical line of the upstream wire protocol.
type LineKind int

const (
	// LineContent carries a fragment of the assistant's answer (tag "0:").
	LineContent LineKind = iota
	// LineReasoning carries a fragment of intermediate thinking (tag "g:").
	LineReasoning
	// LineDone is the terminal completion signal (tag "d:" with a done
	// payload, or synthesized at end of stream).
	LineDone
	// LineControl covers informational frames ("f:", "e:", "8:" and
	// non-terminal "d:" payloads). Dropped before they reach consumers.
	LineControl
	// LineError is a terminal upstream failure ("error:" payload).
	LineError
)

// Line is one classified logical line. Text holds the decoded payload for
// content and reasoning lines; Message holds the failure description for
// error lines.
type Line struct {
	Kind    LineKind
	Text    string
	Message string
}

// donePayload is the body of a terminal "d:" line.
type donePayload struct {
	Type string `json:"type"`
}

// errorPayload is the body of an "error:" line.
type errorPayload struct {
	Message string `json:"message"`
}

// Scan reframes the upstream byte stream into classified logical lines.
//
// The stream arrives in arbitrary-sized chunks: a logical line may span
// several reads and one read may contain several lines. Scan yields content,
// reasoning, done and error lines in arrival order; informational control
// frames are dropped. The sequence is single-pass and always finite: it ends
// after the first done or error line, and if the upstream closes the stream
// without an explicit done signal, one is synthesized so consumers observe a
// terminal line exactly once. A read failure surfaces as a terminal error
// line rather than a truncated sequence.
func Scan(r io.Reader) iter.Seq[Line] {
	return func(yield func(Line) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		for sc.Scan() {
			raw := strings.TrimSpace(sc.Text())
			if raw == "" {
				continue
			}

			line := classify(raw)
			switch line.Kind {
			case LineControl:
				continue
			case LineDone, LineError:
				yield(line)
				return
			default:
				if !yield(line) {
					return
				}
			}
		}

		if err := sc.Err(); err != nil {
			yield(Line{Kind: LineError, Message: "upstream read failed: " + err.Error()})
			return
		}

		// Stream ended without an explicit done signal.
		yield(Line{Kind: LineDone})
	}
}

// classify maps one trimmed logical line onto the protocol's variant set.
func classify(raw string) Line {
	switch {
	case strings.HasPrefix(raw, `0:"`) && strings.HasSuffix(raw, `"`):
		return Line{Kind: LineContent, Text: decodeQuoted(raw[2:])}

	case strings.HasPrefix(raw, `g:"`) && strings.HasSuffix(raw, `"`):
		return Line{Kind: LineReasoning, Text: decodeQuoted(raw[2:])}

	case strings.HasPrefix(raw, "d:"):
		var p donePayload
		if err := json.Unmarshal([]byte(raw[2:]), &p); err == nil {
			if strings.EqualFold(p.Type, "done") {
				return Line{Kind: LineDone}
			}
		}
		return Line{Kind: LineControl}

	case strings.HasPrefix(raw, "error:"):
		var p errorPayload
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw[6:])), &p); err == nil && p.Message != "" {
			return Line{Kind: LineError, Message: p.Message}
		}
		return Line{Kind: LineError, Message: "unknown upstream error"}

	default:
		// "f:", "e:", "8:" frames and anything unrecognized.
		return Line{Kind: LineControl}
	}
}

// decodeQuoted decodes a quoted, escaped payload segment (quotes included).
// The segment is treated as a standard escaped string literal; if that fails
// on a malformed escape, the common sequences are substituted manually so a
// single bad line degrades instead of aborting the turn.
func decodeQuoted(quoted string) string {
	if s, err := strconv.Unquote(quoted); err == nil {
		return s
	}

	inner := strings.TrimSuffix(strings.TrimPrefix(quoted, `"`), `"`)
	inner = strings.ReplaceAll(inner, `\"`, `"`)
	inner = strings.ReplaceAll(inner, `\n`, "\n")
	inner = strings.ReplaceAll(inner, `\t`, "\t")
	return inner
}
