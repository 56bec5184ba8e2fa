package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/zen-systems/dispatch/pkg/reframe"
)

// Service implements Backend over a single completion client, applying the
// transient-retry policy to every call.
type Service struct {
	client Client
	policy RetryPolicy
}

// NewService wraps a client with the default retry policy.
func NewService(client Client) *Service {
	return NewServiceWithPolicy(client, DefaultRetryPolicy())
}

// NewServiceWithPolicy wraps a client with an explicit retry policy.
func NewServiceWithPolicy(client Client, policy RetryPolicy) *Service {
	return &Service{client: client, policy: policy}
}

// Execute runs a task through the client.
func (s *Service) Execute(ctx context.Context, taskText string) (*Reply, error) {
	content, err := Call(ctx, s.client, taskText, s.policy)
	if err != nil {
		return nil, fmt.Errorf("backend execute: %w", err)
	}
	return &Reply{
		Content:  content,
		Metadata: map[string]string{"client": s.client.Name()},
	}, nil
}

// Evaluate sends a structured evaluation request and returns the raw
// judgment text. Parsing and defaulting are the caller's contract.
func (s *Service) Evaluate(ctx context.Context, taskText, answer string) (string, error) {
	content, err := Call(ctx, s.client, buildEvaluationPrompt(taskText, answer), s.policy)
	if err != nil {
		return "", fmt.Errorf("backend evaluate: %w", err)
	}
	return content, nil
}

// Reframe asks the client to restate the task and returns the cleaned
// replacement text. An empty rewrite is an error; the caller keeps the
// original text in that case.
func (s *Service) Reframe(ctx context.Context, taskText string, issues []string) (string, error) {
	content, err := Call(ctx, s.client, reframe.BuildPrompt(taskText, issues), s.policy)
	if err != nil {
		return "", fmt.Errorf("backend reframe: %w", err)
	}
	rewritten := reframe.CleanReply(content)
	if rewritten == "" {
		return "", fmt.Errorf("backend reframe: empty rewrite")
	}
	return rewritten, nil
}

func buildEvaluationPrompt(taskText, answer string) string {
	var sb strings.Builder
	sb.WriteString("You are a strict result evaluator.\n")
	sb.WriteString("Score the answer below against its task on four criteria, each 0-10.\n")
	sb.WriteString("Return ONLY JSON: {\"correctness\":0-10,\"completeness\":0-10,")
	sb.WriteString("\"clarity\":0-10,\"relevance\":0-10,\"issues\":[\"...\"],\"strengths\":[\"...\"]}.\n\n")
	sb.WriteString("Task:\n---\n")
	sb.WriteString(taskText)
	sb.WriteString("\n---\n\nAnswer:\n---\n")
	sb.WriteString(answer)
	sb.WriteString("\n---\n")
	return sb.String()
}
