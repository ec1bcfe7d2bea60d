// Package blueprint implements persistent, structured implementation
// plans with validation gates — a goal/why/what decomposition plus a
// task list the agent works through one validation gate at a time.
package blueprint

import (
	"fmt"
	"strings"
	"time"
)

// Status is a blueprint's lifecycle stage.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusApproved   Status = "approved"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ValidationLevel is a validation gate's severity, from a quick syntax
// check up to a full integration run.
type ValidationLevel int

const (
	ValidationSyntax      ValidationLevel = 1
	ValidationUnitTest    ValidationLevel = 2
	ValidationIntegration ValidationLevel = 3
)

// Name renders the validation level for display, e.g. "Unit Test".
func (v ValidationLevel) Name() string {
	switch v {
	case ValidationSyntax:
		return "Syntax"
	case ValidationUnitTest:
		return "Unit Test"
	case ValidationIntegration:
		return "Integration"
	default:
		return fmt.Sprintf("Level %d", int(v))
	}
}

// SuccessCriterion is one measurable condition that defines the
// blueprint as done.
type SuccessCriterion struct {
	Description        string `json:"description"`
	ValidationCommand   string `json:"validation_command,omitempty"`
	ValidationType      string `json:"validation_type"` // manual, lint, test, type_check
}

// CodeReference points at existing code relevant to the blueprint.
type CodeReference struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Content   string `json:"content,omitempty"`
	Relevance string `json:"relevance,omitempty"`
	Source    string `json:"source,omitempty"` // codebase_search, context_engine, user
}

// AntiPattern is a known mistake to avoid while executing the blueprint.
type AntiPattern struct {
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Task is a single step within a blueprint's execution plan.
type Task struct {
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	Pseudocode        string          `json:"pseudocode,omitempty"`
	FilesInvolved     []string        `json:"files_involved,omitempty"`
	Dependencies      []int           `json:"dependencies,omitempty"` // indices of prerequisite tasks
	ValidationGate    ValidationLevel `json:"validation_gate"`
	Complexity        string          `json:"complexity"` // low, medium, high
	Status            string          `json:"status"`      // pending, in_progress, completed, skipped
	Notes             string          `json:"notes,omitempty"`
	ValidationResult  string          `json:"validation_result,omitempty"`
}

// Gate is a validation checkpoint shared by every task at a given level.
type Gate struct {
	Level   ValidationLevel `json:"level"`
	Name    string          `json:"name,omitempty"`
	Checks  []string        `json:"checks,omitempty"`
	Passed  *bool           `json:"passed,omitempty"`
	Results string          `json:"results,omitempty"`
}

// Blueprint is a full PRP-style (goal/why/what) structured plan for one
// planning session.
type Blueprint struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Goal            string             `json:"goal"`
	Why             string             `json:"why"`
	What            string             `json:"what"`
	SuccessCriteria []SuccessCriterion `json:"success_criteria,omitempty"`

	CodeReferences    []CodeReference `json:"code_references,omitempty"`
	DocumentationRefs []string        `json:"documentation_refs,omitempty"`
	AntiPatterns      []AntiPattern   `json:"anti_patterns,omitempty"`
	Gotchas           []string        `json:"gotchas,omitempty"`
	Learnings         []string        `json:"learnings,omitempty"`

	Tasks           []Task `json:"tasks,omitempty"`
	ValidationGates []Gate `json:"validation_gates,omitempty"`

	Status           Status `json:"status"`
	CurrentTaskIndex int    `json:"current_task_index"`
}

// ToMarkdown renders the blueprint as human-readable markdown, matching
// the sections an agent or a reviewer would want to see in order: goal
// header, why/what narrative, success criteria, task checklist (with the
// current task flagged), anti-patterns, and gotchas.
func (b *Blueprint) ToMarkdown() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("# Blueprint: %s", b.Goal))
	lines = append(lines, fmt.Sprintf("\n**Status:** %s", b.Status))
	lines = append(lines, fmt.Sprintf("**ID:** %s", b.ID))
	lines = append(lines, fmt.Sprintf("**Session:** %s", b.SessionID))

	if b.Why != "" {
		lines = append(lines, fmt.Sprintf("\n## Why\n%s", b.Why))
	}
	if b.What != "" {
		lines = append(lines, fmt.Sprintf("\n## What\n%s", b.What))
	}

	if len(b.SuccessCriteria) > 0 {
		lines = append(lines, "\n## Success Criteria")
		for _, sc := range b.SuccessCriteria {
			cmd := ""
			if sc.ValidationCommand != "" {
				cmd = fmt.Sprintf(" (`%s`)", sc.ValidationCommand)
			}
			lines = append(lines, fmt.Sprintf("- [%s] %s%s", sc.ValidationType, sc.Description, cmd))
		}
	}

	if len(b.Tasks) > 0 {
		lines = append(lines, "\n## Tasks")
		for i, task := range b.Tasks {
			check := "[ ]"
			if task.Status == "completed" {
				check = "[x]"
			}
			arrow := ""
			if i == b.CurrentTaskIndex && b.Status == StatusInProgress {
				arrow = " <-- CURRENT"
			}
			lines = append(lines, fmt.Sprintf("%d. %s **%s** (%s)%s", i+1, check, task.Title, task.Complexity, arrow))
			if task.Description != "" {
				lines = append(lines, fmt.Sprintf("   %s", task.Description))
			}
			if len(task.FilesInvolved) > 0 {
				lines = append(lines, fmt.Sprintf("   Files: %s", strings.Join(task.FilesInvolved, ", ")))
			}
		}
	}

	if len(b.AntiPatterns) > 0 {
		lines = append(lines, "\n## Anti-Patterns")
		for _, ap := range b.AntiPatterns {
			lines = append(lines, fmt.Sprintf("- %s", ap.Description))
		}
	}

	if len(b.Gotchas) > 0 {
		lines = append(lines, "\n## Gotchas")
		for _, g := range b.Gotchas {
			lines = append(lines, fmt.Sprintf("- %s", g))
		}
	}

	return strings.Join(lines, "\n")
}
