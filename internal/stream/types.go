package stream

import (
	"context"
	"fmt"
)

// Chunk represents one raw fragment of the response body, in arrival order.
type Chunk struct {
	Content string
	Error   error
}

// Parser handles the forwarding of a raw response body as chunks
type Parser struct {
	ctx    context.Context
	chunks chan Chunk
	size   int
}

func NewParser(ctx context.Context) *Parser {
	return &Parser{
		ctx:    ctx,
		chunks: make(chan Chunk),
		size:   4096,
	}
}

func (p *Parser) Chunks() <-chan Chunk {
	return p.chunks
}

// Record is one line of the backend's newline-delimited JSON stream.
type Record struct {
	Response string `json:"response,omitempty"`
	Done     bool   `json:"done,omitempty"`
	Error    string `json:"error,omitempty"`
	Model    string `json:"model,omitempty"`
}

// ParseWarning reports a record that could not be decoded and was skipped.
type ParseWarning struct {
	Line string
	Err  error
}

func (w *ParseWarning) Error() string {
	return fmt.Sprintf("skipping malformed record %q: %v", truncate(w.Line, 80), w.Err)
}

func (w *ParseWarning) Unwrap() error {
	return w.Err
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
