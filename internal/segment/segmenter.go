// Package segment turns free-form backend output into ordered stage steps.
//
// Segmenter handles live, arbitrarily chunked text. Parse handles one
// complete response and falls back to heuristics when the stage markers are
// missing.
package segment

import (
	"strings"
	"time"
	"unicode"

	"github.com/markis/seqthink/internal/stage"
)

// Option configures a Segmenter.
type Option func(*Segmenter)

// StrictOrder only accepts markers that come after the active stage in
// canonical order. Any other marker text is kept as step content.
func StrictOrder() Option {
	return func(s *Segmenter) {
		s.strict = true
	}
}

// WithStop sets a check consulted before every step change and callback.
// Once it reports true the segmenter stops: no step is opened, no text is
// appended and no callback fires.
func WithStop(stop func() bool) Option {
	return func(s *Segmenter) {
		s.stop = stop
	}
}

// WithClock sets the time source used for step timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) {
		s.now = now
	}
}

// Segmenter is the streaming segmentation automaton. It owns one growable
// window of unresolved text and writes into a stage.Result as markers are
// recognized.
//
// Every Write reports at least one callback once a step exists. Text held
// before the first step opens (a partial marker or blank space) reports
// nothing, since there is no step index to report against yet.
//
// A Segmenter serves a single response and is not safe for concurrent use.
type Segmenter struct {
	result *stage.Result
	notify stage.Callback
	now    func() time.Time
	stop   func() bool
	strict bool

	window string
	full   strings.Builder

	active   int
	implicit bool   // active step was opened before its marker was seen
	trimLead bool   // the active step has not received visible text yet
	gap      string // emitted before the next text once an implicit step is labeled
	seen     bool   // a canonical marker was recognized
	notified bool
	closed   bool
	halted   bool
}

// New returns a Segmenter writing into result and reporting through notify.
func New(result *stage.Result, notify stage.Callback, opts ...Option) *Segmenter {
	s := &Segmenter{
		result: result,
		notify: notify,
		now:    time.Now,
		active: -1,
	}
	if s.notify == nil {
		s.notify = func(stage.Stage, string, bool, int) {}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write consumes the next text increment.
func (s *Segmenter) Write(text string) {
	if s.closed || text == "" || s.stopped() {
		return
	}
	s.full.WriteString(text)
	s.window += text
	s.notified = false

	s.scan()

	if !s.notified && s.active >= 0 {
		s.emit(s.active, "", false)
	}
}

// Close applies the completion signal: held text is released, the active
// step is finalized and the final answer is derived. A stopped segmenter
// leaves the result as it is. A response that never opened a step has an
// empty final answer.
func (s *Segmenter) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.stopped() {
		return
	}

	rest := strings.TrimRightFunc(s.window, unicode.IsSpace)
	s.window = ""
	s.release(rest)
	if s.active >= 0 {
		s.finish()
	}
	if len(s.result.Steps) == 0 {
		s.result.FinalAnswer = ""
		return
	}
	s.result.FinalAnswer = finalAnswer(s.full.String(), s.seen)
}

// Stopped reports whether the stop check has fired.
func (s *Segmenter) Stopped() bool {
	return s.stopped()
}

func (s *Segmenter) stopped() bool {
	if !s.halted && s.stop != nil && s.stop() {
		s.halted = true
	}
	return s.halted
}

// Text returns everything written so far.
func (s *Segmenter) Text() string {
	return s.full.String()
}

// MarkersSeen reports whether any canonical marker was recognized.
func (s *Segmenter) MarkersSeen() bool {
	return s.seen
}

func (s *Segmenter) scan() {
	for {
		if s.stopped() {
			return
		}
		st, pos := s.nextMarker()
		if pos < 0 {
			break
		}
		marker := st.Marker()
		before := s.window[:pos]
		s.window = s.window[pos+len(marker):]

		if s.literal(st) {
			s.release(before + marker)
			continue
		}
		s.release(strings.TrimRightFunc(before, unicode.IsSpace))
		if s.stopped() {
			return
		}
		s.transition(st)
	}

	// Hold a possible split marker and trailing whitespace until more text
	// arrives.
	cut := heldSuffix(s.window)
	text := strings.TrimRightFunc(s.window[:cut], unicode.IsSpace)
	s.release(text)
	s.window = s.window[len(text):]
}

// nextMarker finds the earliest acceptable marker in the window.
func (s *Segmenter) nextMarker() (stage.Stage, int) {
	var best stage.Stage
	bestPos := -1
	for _, st := range s.candidates() {
		if i := strings.Index(s.window, st.Marker()); i >= 0 && (bestPos < 0 || i < bestPos) {
			best, bestPos = st, i
		}
	}
	return best, bestPos
}

func (s *Segmenter) candidates() []stage.Stage {
	if !s.strict || s.active < 0 {
		return stage.Stages
	}
	k := s.result.Steps[s.active].Stage.Index()
	if s.implicit {
		return stage.Stages[k:]
	}
	return stage.Stages[k+1:]
}

// literal reports whether a marker for st is ordinary content: it repeats the
// stage already being written.
func (s *Segmenter) literal(st stage.Stage) bool {
	return s.active >= 0 && !s.implicit && s.result.Steps[s.active].Stage == st
}

func (s *Segmenter) transition(st stage.Stage) {
	s.seen = true

	if s.active >= 0 && s.implicit && s.result.Steps[s.active].Stage == st {
		s.implicit = false
		s.trimLead = true
		if s.result.Steps[s.active].Content != "" {
			s.gap = "\n\n"
		}
		return
	}

	if s.active >= 0 {
		s.finish()
	}
	s.open(st, false)
}

func (s *Segmenter) open(st stage.Stage, implicit bool) {
	if s.stopped() {
		return
	}
	idx := s.result.AddStep(string(st), st, s.now())
	if idx < 0 {
		return
	}
	s.active = idx
	s.implicit = implicit
	s.trimLead = true
	s.gap = ""
	s.emit(idx, "", false)
}

func (s *Segmenter) finish() {
	idx := s.active
	s.result.Complete(idx)
	s.active = -1
	s.implicit = false
	s.emit(idx, "", true)
}

// release appends text to the active step, opening the implicit first step
// when nothing is active yet.
func (s *Segmenter) release(text string) {
	if s.stopped() {
		return
	}
	if s.active < 0 || s.trimLead {
		text = strings.TrimLeftFunc(text, unicode.IsSpace)
	}
	if text == "" {
		return
	}
	if s.active < 0 {
		s.open(stage.Understand, true)
		if s.active < 0 {
			return
		}
	}
	if s.gap != "" {
		text = s.gap + text
		s.gap = ""
	}
	s.trimLead = false
	s.result.Append(s.active, text)
	s.emit(s.active, text, false)
}

func (s *Segmenter) emit(idx int, delta string, complete bool) {
	if s.stopped() {
		return
	}
	s.notified = true
	s.notify(s.result.Steps[idx].Stage, delta, complete, idx)
}

// heldSuffix returns the start of the longest suffix of w that is a proper
// prefix of some marker, or len(w).
func heldSuffix(w string) int {
	start := len(w) - stage.MaxMarkerLen() + 1
	if start < 0 {
		start = 0
	}
	for i := start; i < len(w); i++ {
		if isMarkerPrefix(w[i:]) {
			return i
		}
	}
	return len(w)
}

func isMarkerPrefix(p string) bool {
	for _, st := range stage.Stages {
		m := st.Marker()
		if len(p) < len(m) && strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

// finalAnswer is the trimmed text after the last Finalize marker when the
// response followed the marker structure, otherwise the whole text.
func finalAnswer(text string, structured bool) string {
	if structured {
		marker := stage.Finalize.Marker()
		if i := strings.LastIndex(text, marker); i >= 0 {
			return strings.TrimSpace(text[i+len(marker):])
		}
	}
	return text
}
