// Package credentials manages the gateway's two credential sets: the static
// client API keys callers authenticate with, and the rotating pool of
// upstream auth tokens requests are sent out with.
package credentials

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// tokenFieldSeparator splits the columns of an upstream token line. Only the
// first column is the token; the rest is account bookkeeping.
const tokenFieldSeparator = "----"

// ErrNoTokens is returned when the upstream token pool is empty.
var ErrNoTokens = errors.New("no upstream auth tokens configured")

// TokenPool hands out upstream auth tokens round-robin. Safe for concurrent
// use; the lock is held only for the index rotation, never across I/O.
type TokenPool struct {
	mu     sync.Mutex
	tokens []string
	next   int
}

// NewTokenPool returns an empty pool.
func NewTokenPool() *TokenPool {
	return &TokenPool{}
}

// Load reads the token file at path and replaces the pool contents. One
// token per line; lines may carry additional `----`-separated fields after
// the token, and blank lines are skipped. On error the previous contents
// are kept.
func (p *TokenPool) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var tokens []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		token, _, _ := strings.Cut(line, tokenFieldSeparator)
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading token file: %w", err)
	}

	p.mu.Lock()
	p.tokens = tokens
	if p.next >= len(tokens) {
		p.next = 0
	}
	p.mu.Unlock()
	return nil
}

// Next returns the next token in rotation, or ErrNoTokens when the pool is
// empty.
func (p *TokenPool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tokens) == 0 {
		return "", ErrNoTokens
	}
	token := p.tokens[p.next]
	p.next = (p.next + 1) % len(p.tokens)
	return token, nil
}

// Len reports the number of tokens in the pool.
func (p *TokenPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

// Append adds a token line to the file at path in the pool's on-disk format
// (token, optional comment column). Used by the auth CLI; the running
// service picks the change up via hot reload.
func Append(path, token, comment string) error {
	line := token
	if comment != "" {
		line += tokenFieldSeparator + comment
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("appending token: %w", err)
	}
	return nil
}
