package goal

import (
	"fmt"
	"strings"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

// goalDocument is the on-disk YAML shape for a goals file, kept separate
// from entity.Goal so "enabled" can distinguish "absent" (default true)
// from an explicit false, and so the richer shell/notify action wire
// format can be folded into entity.Action's generic tool+args shape.
type goalDocument struct {
	Goals []yamlGoal `yaml:"goals"`
}

type yamlGoal struct {
	ID                  string                 `yaml:"id"`
	Name                string                 `yaml:"name"`
	Description         string                 `yaml:"description"`
	Trigger             yamlTrigger            `yaml:"trigger"`
	Action              yamlAction             `yaml:"action"`
	RiskLevel           string                 `yaml:"risk_level"`
	ConfidenceThreshold float64                `yaml:"confidence_threshold"`
	Limits              entity.Limits          `yaml:"limits"`
	Enabled             *bool                  `yaml:"enabled"`
	RequiresApproval    bool                   `yaml:"requires_approval"`
}

type yamlTrigger struct {
	EventType string                 `yaml:"event_type"`
	Filter    map[string]interface{} `yaml:"filter"`
}

func (t yamlTrigger) toEntity() entity.Trigger {
	var filter map[string]string
	if len(t.Filter) > 0 {
		filter = make(map[string]string, len(t.Filter))
		for k, v := range t.Filter {
			filter[k] = fmt.Sprint(v)
		}
	}
	return entity.Trigger{EventType: t.EventType, Filter: filter}
}

// yamlAction accepts both the native tool+args wire shape and the richer
// shell/notify shape (type/command/channel/message/timeout_seconds),
// folding the latter into the former.
type yamlAction struct {
	Tool           string                 `yaml:"tool"`
	Args           map[string]interface{} `yaml:"args"`
	Type           string                 `yaml:"type"`
	Command        string                 `yaml:"command"`
	Channel        string                 `yaml:"channel"`
	Message        string                 `yaml:"message"`
	TimeoutSeconds int                    `yaml:"timeout_seconds"`
}

func (a yamlAction) toEntity() entity.Action {
	tool := a.Tool
	if tool == "" {
		tool = a.Type
	}
	args := make(map[string]interface{}, len(a.Args)+4)
	for k, v := range a.Args {
		args[k] = v
	}
	if a.Command != "" {
		args["command"] = a.Command
	}
	if a.Channel != "" {
		args["channel"] = a.Channel
	}
	if a.Message != "" {
		args["message"] = a.Message
	}
	if a.TimeoutSeconds != 0 {
		args["timeout_seconds"] = a.TimeoutSeconds
	}
	return entity.Action{Tool: tool, Args: args}
}

func (g yamlGoal) toEntity() entity.Goal {
	enabled := true
	if g.Enabled != nil {
		enabled = *g.Enabled
	}
	return entity.Goal{
		ID:                  g.ID,
		Name:                g.Name,
		Description:         g.Description,
		Trigger:             g.Trigger.toEntity(),
		Action:              g.Action.toEntity(),
		RiskLevel:           entity.RiskLevel(strings.ToUpper(g.RiskLevel)),
		ConfidenceThreshold: g.ConfidenceThreshold,
		Limits:              g.Limits,
		Enabled:             enabled,
		RequiresApproval:    g.RequiresApproval,
	}
}
