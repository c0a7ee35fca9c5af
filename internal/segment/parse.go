package segment

import (
	"regexp"
	"strings"
	"time"

	"github.com/markis/seqthink/internal/stage"
)

// WholeTitle titles the single step produced when no boundary is found.
const WholeTitle = "Thinking Result"

// Mode tells which strategy segmented a batch response.
type Mode int

const (
	ModeEmpty Mode = iota
	ModeCanonical
	ModeFallback
	ModeWhole
)

func (m Mode) String() string {
	switch m {
	case ModeCanonical:
		return "canonical"
	case ModeFallback:
		return "fallback"
	case ModeWhole:
		return "whole"
	default:
		return "empty"
	}
}

// Parsed is the outcome of segmenting one complete response.
type Parsed struct {
	Steps       []stage.Step
	FinalAnswer string
	Mode        Mode
	Rule        string // fallback rule that matched, if any
}

// boundaryRule detects the first line of a pseudo-step.
type boundaryRule struct {
	name    string
	pattern *regexp.Regexp
}

// fallbackRules are tried in order; the first rule matching any line decides
// the segmentation.
var fallbackRules = []boundaryRule{
	{name: "numbered", pattern: regexp.MustCompile(`^\d+\.\s+`)},
	{name: "heading", pattern: regexp.MustCompile(`^#+\s+`)},
}

// Parse segments a complete response.
func Parse(text string) Parsed {
	return parseAt(text, time.Now())
}

func parseAt(text string, at time.Time) Parsed {
	if steps := parseCanonical(text, at); len(steps) > 0 {
		return Parsed{
			Steps:       steps,
			FinalAnswer: finalAnswer(text, hasStage(steps, stage.Finalize)),
			Mode:        ModeCanonical,
		}
	}

	if rule, steps := parseFallback(text, at); len(steps) > 0 {
		return Parsed{Steps: steps, FinalAnswer: text, Mode: ModeFallback, Rule: rule}
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Parsed{Steps: []stage.Step{}, Mode: ModeEmpty}
	}
	return Parsed{
		Steps: []stage.Step{{
			Title:      WholeTitle,
			Content:    trimmed,
			CreatedAt:  at,
			IsComplete: true,
		}},
		FinalAnswer: text,
		Mode:        ModeWhole,
	}
}

// parseCanonical looks for the markers in canonical order. Each search starts
// after the previous marker found, so a marker quoted in earlier prose is
// not mistaken for a later heading.
func parseCanonical(text string, at time.Time) []stage.Step {
	type hit struct {
		st         stage.Stage
		start, end int
	}

	var hits []hit
	from := 0
	for _, st := range stage.Stages {
		marker := st.Marker()
		i := strings.Index(text[from:], marker)
		if i < 0 {
			continue
		}
		start := from + i
		hits = append(hits, hit{st: st, start: start, end: start + len(marker)})
		from = start + len(marker)
	}

	steps := make([]stage.Step, 0, len(hits))
	for k, h := range hits {
		end := len(text)
		if k+1 < len(hits) {
			end = hits[k+1].start
		}
		steps = append(steps, stage.Step{
			Title:      string(h.st),
			Stage:      h.st,
			Content:    strings.TrimSpace(text[h.end:end]),
			CreatedAt:  at,
			IsComplete: true,
		})
	}
	return steps
}

func parseFallback(text string, at time.Time) (string, []stage.Step) {
	lines := strings.Split(text, "\n")
	for _, rule := range fallbackRules {
		if steps := rule.segment(lines, at); len(steps) > 0 {
			return rule.name, steps
		}
	}
	return "", nil
}

func (r boundaryRule) segment(lines []string, at time.Time) []stage.Step {
	var (
		steps   []stage.Step
		title   string
		content strings.Builder
		open    bool
	)
	flush := func() {
		if !open {
			return
		}
		steps = append(steps, stage.Step{
			Title:      title,
			Content:    strings.TrimSpace(content.String()),
			CreatedAt:  at,
			IsComplete: true,
		})
	}

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if loc := r.pattern.FindStringIndex(line); loc != nil {
			flush()
			title = strings.TrimSpace(line[loc[1]:])
			content.Reset()
			open = true
			continue
		}
		if open {
			content.WriteString(line)
			content.WriteByte('\n')
		}
	}
	flush()
	return steps
}

func hasStage(steps []stage.Step, st stage.Stage) bool {
	for _, s := range steps {
		if s.Stage == st {
			return true
		}
	}
	return false
}
