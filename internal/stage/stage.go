package stage

import "strings"

// Stage is one of the six canonical reasoning phases.
type Stage string

const (
	Understand Stage = "Understand"
	Analyze    Stage = "Analyze"
	Approach   Stage = "Approach"
	Solution   Stage = "Solution"
	Verify     Stage = "Verify"
	Finalize   Stage = "Finalize"
)

// markerPrefix is the heading syntax the backend is asked to reproduce.
const markerPrefix = "## "

// Stages lists every stage in canonical order.
var Stages = []Stage{Understand, Analyze, Approach, Solution, Verify, Finalize}

// Index returns the canonical position of the stage, or -1 if it is not canonical.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Marker returns the literal heading that delimits the stage in backend output.
// The prompt builder and the segmenter both read markers from here.
func (s Stage) Marker() string {
	return markerPrefix + string(s)
}

func (s Stage) String() string {
	return string(s)
}

// Parse maps a step title or marker back to its canonical stage.
func Parse(title string) (Stage, bool) {
	title = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(title), markerPrefix))
	for _, st := range Stages {
		if strings.EqualFold(title, string(st)) {
			return st, true
		}
	}
	return "", false
}

// MaxMarkerLen is the byte length of the longest marker.
func MaxMarkerLen() int {
	n := 0
	for _, st := range Stages {
		if l := len(st.Marker()); l > n {
			n = l
		}
	}
	return n
}
