// Package reframe builds the clarification requests sent to the backend
// when an attempt falls well short of the quality bar.
package reframe

import (
	"fmt"
	"strings"
)

// BuildPrompt asks the backend to restate a task more specifically, given
// the issues found with the previous answer.
func BuildPrompt(taskText string, issues []string) string {
	var sb strings.Builder

	sb.WriteString("The following task produced a low-quality answer:\n\n")
	sb.WriteString("---\n")
	sb.WriteString(taskText)
	sb.WriteString("\n---\n\n")

	if len(issues) > 0 {
		sb.WriteString("Issues with the answer:\n")
		for _, issue := range issues {
			sb.WriteString(fmt.Sprintf("- %s\n", issue))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Rewrite the task statement to be more specific and unambiguous, ")
	sb.WriteString("so the issues above cannot recur. Keep the original intent. ")
	sb.WriteString("Return ONLY the rewritten task text.")

	return sb.String()
}

// BuildEscalationPrompt is a stronger variant for when reframed attempts
// keep failing the same way.
func BuildEscalationPrompt(taskText string, issues []string) string {
	var sb strings.Builder

	sb.WriteString("Previous restatements of this task keep producing low-quality answers.\n")
	sb.WriteString("Do NOT produce a minor rewording; restructure the task statement.\n\n")

	if len(issues) > 0 {
		sb.WriteString("Recurring issues:\n")
		for _, issue := range issues {
			sb.WriteString(fmt.Sprintf("- %s\n", issue))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Original task:\n---\n")
	sb.WriteString(taskText)
	sb.WriteString("\n---\n")
	sb.WriteString("\nBreak the task into explicit, verifiable requirements. ")
	sb.WriteString("Return ONLY the rewritten task text.")

	return sb.String()
}

// CleanReply strips code fences and surrounding quotes from a backend
// reply so the result can be used verbatim as the new task text.
func CleanReply(reply string) string {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		text = text[1 : len(text)-1]
	}
	return strings.TrimSpace(text)
}
