package convcache

import "slices"

// Match searches for a session that already holds the incoming conversation.
//
// priorFingerprints must cover every user and assistant request message
// except the final (newest) user message; system messages are represented by
// systemSig instead. A record matches when its endpoint and system signature
// are equal and its stored fingerprint sequence equals priorFingerprints
// element for element — or, for clients that do not echo the most recent
// assistant reply back, when the stored sequence with that trailing entry
// removed does. Comparing the entire prefix rather than just the last
// message guards against false reuse when a client edits or truncates
// earlier history.
//
// Records are scanned most-recently-used first and the first match wins;
// recency is the sole tie-break. A successful match refreshes the record's
// recency. No match means a new upstream session is required.
func (c *Cache) Match(endpoint string, systemSig uint64, priorFingerprints []string) (string, Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.rec.Endpoint != endpoint || e.rec.SystemSig != systemSig {
			continue
		}
		stored := e.rec.Fingerprints
		if len(stored) == 0 {
			continue
		}
		if !slices.Equal(stored, priorFingerprints) &&
			!slices.Equal(stored[:len(stored)-1], priorFingerprints) {
			continue
		}

		e.rec.LastAccess = c.now()
		c.ll.MoveToFront(el)
		return e.key, e.rec.clone(), true
	}

	return "", Record{}, false
}

// Extend records a completed turn on an existing session: the final user
// fingerprint is appended unless it is already the trailing entry (the
// matcher may run twice for retried requests), followed by the assistant
// reply's fingerprint. The record is marked most recently used. Extending a
// key that has been evicted in the meantime is a no-op.
func (c *Cache) Extend(key, userFingerprint, assistantFingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return
	}
	e := el.Value.(*entry)

	fps := e.rec.Fingerprints
	if len(fps) == 0 || fps[len(fps)-1] != userFingerprint {
		fps = append(fps, userFingerprint)
	}
	fps = append(fps, assistantFingerprint)
	e.rec.Fingerprints = fps
	e.rec.LastAccess = c.now()
	c.ll.MoveToFront(el)
}
