package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/cli/go-gh/v2/pkg/markdown"
	"github.com/markis/seqthink/internal/stage"
)

const defaultWrap = 120

// TerminalRenderer prints stage steps as they stream in. Each step gets a
// heading; markdown is rendered one paragraph at a time.
type TerminalRenderer struct {
	out       io.Writer
	markdown  *glamour.TermRenderer
	plainText bool
	buffer    strings.Builder
	step      int
	open      bool
	err       error
}

func NewTerminalRenderer(out io.Writer, usePlainText bool, wrap int) *TerminalRenderer {
	if wrap <= 0 {
		wrap = defaultWrap
	}
	var md *glamour.TermRenderer
	if !usePlainText {
		md, _ = glamour.NewTermRenderer(
			markdown.WithWrap(wrap),
			glamour.WithAutoStyle(),
		)
	}

	return &TerminalRenderer{
		out:       out,
		markdown:  md,
		plainText: usePlainText || md == nil,
		step:      -1,
	}
}

// Notify consumes one delta notification. It satisfies stage.Callback.
func (t *TerminalRenderer) Notify(st stage.Stage, delta string, isComplete bool, stepIndex int) {
	if stepIndex != t.step {
		t.begin(stepIndex, st.String())
	}
	if delta != "" {
		t.write(delta)
	}
	if isComplete {
		t.end()
	}
}

// Finish flushes whatever is still buffered once the request is over.
func (t *TerminalRenderer) Finish(result *stage.Result) error {
	if t.open {
		t.end()
	}
	if result != nil && result.Cancelled {
		t.print("[cancelled]\n")
	}
	return t.err
}

// RenderResult prints a complete result, as returned by a batch request or
// read back from history.
func (t *TerminalRenderer) RenderResult(result *stage.Result) error {
	for i, s := range result.Steps {
		t.begin(i, s.Title)
		t.write(s.Content)
		t.end()
	}
	return t.Finish(result)
}

// Err returns the first write or render failure.
func (t *TerminalRenderer) Err() error {
	return t.err
}

func (t *TerminalRenderer) begin(index int, title string) {
	if t.open {
		t.end()
	}
	t.step = index
	t.open = true
	if t.plainText {
		t.print("## " + title + "\n")
		return
	}
	t.buffer.WriteString("## " + title + "\n\n")
}

func (t *TerminalRenderer) write(delta string) {
	if t.plainText {
		t.print(delta)
		return
	}

	t.buffer.WriteString(delta)
	content := t.buffer.String()

	if idx := findMarkdownBreakPoint(content); idx > 0 {
		t.renderContent(content[:idx])
		// Reset buffer with remaining content
		remaining := content[idx:]
		t.buffer.Reset()
		t.buffer.WriteString(remaining)
	}
}

func (t *TerminalRenderer) end() {
	t.open = false
	if t.plainText {
		t.print("\n\n")
		return
	}
	if remaining := t.buffer.String(); strings.TrimSpace(remaining) != "" {
		t.renderContent(remaining)
	}
	t.buffer.Reset()
}

func (t *TerminalRenderer) renderContent(content string) {
	if t.err != nil {
		return
	}

	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "#") {
		t.print("\n")
	}

	mdContent, err := t.markdown.Render(content)
	if err != nil {
		t.err = fmt.Errorf("failed to render markdown: %w", err)
		return
	}

	t.print(strings.TrimSpace(mdContent) + "\n")
}

func (t *TerminalRenderer) print(s string) {
	if t.err != nil {
		return
	}
	if _, err := io.WriteString(t.out, s); err != nil {
		t.err = fmt.Errorf("failed to write output: %w", err)
	}
}

// findMarkdownBreakPoint returns the end of the last complete paragraph, or
// -1. A code fence that is still open is never split.
func findMarkdownBreakPoint(content string) int {
	const marker string = "\n\n"
	idx := strings.LastIndex(content, marker)
	for idx >= 0 {
		if strings.Count(content[:idx], "```")%2 == 0 {
			return idx + len(marker)
		}
		idx = strings.LastIndex(content[:idx], marker)
	}
	return -1
}
