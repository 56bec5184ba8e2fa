// Package executor provides the built-in executors. Each one wraps the
// generation backend with a different reasoning frame; the engine treats
// them as opaque and learns which frame suits which kind of task.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/zen-systems/dispatch/pkg/backend"
	"github.com/zen-systems/dispatch/pkg/registry"
	"github.com/zen-systems/dispatch/pkg/task"
)

type promptExecutor struct {
	name    string
	backend backend.Backend
	frame   func(taskText string) string
}

func (e *promptExecutor) Execute(ctx context.Context, taskText string) (*registry.Result, error) {
	reply, err := e.backend.Execute(ctx, e.frame(taskText))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	content := strings.TrimSpace(reply.Content)
	return &registry.Result{
		Answer:   content,
		Success:  content != "",
		Metadata: reply.Metadata,
	}, nil
}

func (e *promptExecutor) Name() string { return e.name }

// React returns an executor that works through a task as interleaved
// thought and action steps. Suited to tasks that need tool-style
// decomposition and iteration.
func React(be backend.Backend) (registry.Executor, registry.Profile) {
	ex := &promptExecutor{
		name:    "react",
		backend: be,
		frame: func(taskText string) string {
			return fmt.Sprintf(`Work through the following task step by step. For each step, state what you are trying to establish (Thought), do it (Action), and note the outcome (Observation). Finish with a section titled "Answer" containing only the final result.

Task: %s`, taskText)
		},
	}
	profile := registry.Profile{
		ID:              "react",
		Type:            "iterative",
		ComplexityLevel: task.ComplexityMedium,
		Speed:           "medium",
		QualityLevel:    registry.QualityStandard,
		Strengths:       []string{"tool-style decomposition", "iteration"},
		BestFor:         []string{"multi-step procedures", "calculations"},
	}
	return ex, profile
}

// Reflection returns an executor that drafts an answer, critiques it, and
// revises. Slower, but stronger on reasoning-heavy tasks.
func Reflection(be backend.Backend) (registry.Executor, registry.Profile) {
	ex := &promptExecutor{
		name:    "reflection",
		backend: be,
		frame: func(taskText string) string {
			return fmt.Sprintf(`Complete the following task in three passes. First write a draft answer. Then critique the draft: list its weaknesses, gaps, and errors. Then write the final, revised answer under a section titled "Answer".

Task: %s`, taskText)
		},
	}
	profile := registry.Profile{
		ID:              "reflection",
		Type:            "self-critique",
		ComplexityLevel: task.ComplexityMedium,
		Speed:           "slow",
		QualityLevel:    registry.QualityHigh,
		Strengths:       []string{"reasoning", "refinement"},
		BestFor:         []string{"analysis", "writing that must hold up to review"},
	}
	return ex, profile
}

// RAG returns an executor that grounds its answer in recalled knowledge
// before responding. Best on factual tasks where sourcing matters more
// than multi-step reasoning.
func RAG(be backend.Backend) (registry.Executor, registry.Profile) {
	ex := &promptExecutor{
		name:    "rag",
		backend: be,
		frame: func(taskText string) string {
			return fmt.Sprintf(`Before answering, list the facts and sources you are drawing on for the following task. Then answer using only what you listed, under a section titled "Answer". If the listed knowledge is insufficient, say so explicitly rather than guessing.

Task: %s`, taskText)
		},
	}
	profile := registry.Profile{
		ID:              "rag",
		Type:            "retrieval-grounded",
		ComplexityLevel: task.ComplexitySimple,
		Speed:           "fast",
		QualityLevel:    registry.QualityHigh,
		Strengths:       []string{"knowledge retrieval", "factual grounding"},
		BestFor:         []string{"lookups", "definitions", "factual questions"},
	}
	return ex, profile
}

// RegisterDefaults registers the built-in executors.
func RegisterDefaults(reg *registry.Registry, be backend.Backend) error {
	for _, build := range []func(backend.Backend) (registry.Executor, registry.Profile){React, Reflection, RAG} {
		ex, profile := build(be)
		if err := reg.Register(ex, profile); err != nil {
			return err
		}
	}
	return nil
}
