package prompt

import (
	"strings"

	"github.com/markis/seqthink/internal/stage"
)

// instructions describes what the backend should write under each marker.
var instructions = map[stage.Stage]string{
	stage.Understand: "Restate the problem. Identify the key requirements, constraints and the expected outcome.",
	stage.Analyze:    "Study the provided code context: its structure, behavior and limits. Point out the parts that matter for the question.",
	stage.Approach:   "Consider several possible solutions and weigh their trade-offs.",
	stage.Solution:   "Describe the best solution in detail. Put any code in ``` fenced blocks.",
	stage.Verify:     "Check that the solution meets the requirements. Consider edge cases.",
	stage.Finalize:   "Give the final answer concisely without repeating the analysis. Include the complete final code if there is any.",
}

// Build returns the prompt asking the backend to answer question in six
// marked stages. codeContext is embedded as a fenced block when non-blank.
func Build(question, codeContext string) string {
	var b strings.Builder
	b.WriteString("You are an expert programming assistant that solves problems by thinking step by step.\n\n")
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\n")

	if ctx := strings.TrimRight(codeContext, "\n"); strings.TrimSpace(ctx) != "" {
		b.WriteString("Code context:\n```\n")
		b.WriteString(ctx)
		b.WriteString("\n```\n\n")
	}

	b.WriteString("Structure your answer using exactly the following headings, in this order, ")
	b.WriteString("each written verbatim on its own line:\n\n")
	for _, st := range stage.Stages {
		b.WriteString(st.Marker())
		b.WriteByte('\n')
		b.WriteString(instructions[st])
		b.WriteString("\n\n")
	}
	return b.String()
}
