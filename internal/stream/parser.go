package stream

import (
	"errors"
	"io"
)

// Process reads body until EOF and forwards every read as one chunk. The
// chunk channel is closed when the body ends, which is the completion
// signal; a read failure is forwarded as a chunk error first. When the
// parser's context is done, Process stops and releases the body.
func (p *Parser) Process(body io.ReadCloser) {
	defer close(p.chunks)
	defer func() {
		_ = body.Close()
	}()
	done := p.ctx.Done()

	buf := make([]byte, p.size)
	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			if !p.send(Chunk{Content: string(buf[:n])}) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && p.ctx.Err() == nil {
				p.send(Chunk{Error: err})
			}
			return
		}
	}
}

func (p *Parser) send(c Chunk) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.chunks <- c:
		return true
	}
}
