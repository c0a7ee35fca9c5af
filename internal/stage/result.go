package stage

import "time"

// Step is a realized occurrence of a stage, or of a fallback pseudo-stage.
type Step struct {
	Title      string    `json:"title"`
	Stage      Stage     `json:"stage,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	IsComplete bool      `json:"is_complete"`
}

// Result is the aggregate produced for one question.
//
// Steps are kept in emission order. During streaming the segmenter owns the
// Result and mutates it through Append, Complete and AddStep only; once the
// request ends it belongs to whoever received it.
type Result struct {
	Question    string `json:"question"`
	Steps       []Step `json:"steps"`
	FinalAnswer string `json:"final_answer"`
	ModelID     string `json:"model_id"`
	ElapsedMs   int64  `json:"elapsed_ms"`
	Cancelled   bool   `json:"cancelled,omitempty"`
}

// Callback is the delta notification protocol. Each call carries the stage,
// the text appended to step stepIndex (possibly empty) and whether the step
// has just been finalized. Consumers append delta to their own copy.
type Callback func(stage Stage, delta string, isComplete bool, stepIndex int)

// NewResult returns an empty result for a question.
func NewResult(question, modelID string) *Result {
	return &Result{
		Question: question,
		ModelID:  modelID,
		Steps:    []Step{},
	}
}

// Active returns the index of the step still receiving content, or -1.
func (r *Result) Active() int {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if !r.Steps[i].IsComplete {
			return i
		}
	}
	return -1
}

// AddStep opens a new step and returns its index. It returns -1 and leaves
// the result untouched while another step is still active.
func (r *Result) AddStep(title string, st Stage, at time.Time) int {
	if r.Active() >= 0 {
		return -1
	}
	r.Steps = append(r.Steps, Step{
		Title:     title,
		Stage:     st,
		CreatedAt: at,
	})
	return len(r.Steps) - 1
}

// Append adds delta to the end of step i. Completed steps are immutable.
func (r *Result) Append(i int, delta string) bool {
	if i < 0 || i >= len(r.Steps) || r.Steps[i].IsComplete {
		return false
	}
	r.Steps[i].Content += delta
	return true
}

// Complete finalizes step i. It reports whether the step was active.
func (r *Result) Complete(i int) bool {
	if i < 0 || i >= len(r.Steps) || r.Steps[i].IsComplete {
		return false
	}
	r.Steps[i].IsComplete = true
	return true
}

// Step returns a copy of step i.
func (r *Result) Step(i int) (Step, bool) {
	if i < 0 || i >= len(r.Steps) {
		return Step{}, false
	}
	return r.Steps[i], true
}
