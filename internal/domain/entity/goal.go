package entity

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RiskLevel is the closed set of risk tiers the decision engine uses to
// scale a goal's confidence threshold.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Multiplier returns the tier multiplier from SPEC_FULL.md §4.9.
func (r RiskLevel) Multiplier() float64 {
	switch r {
	case RiskLow:
		return 0.5
	case RiskMedium:
		return 0.75
	case RiskHigh:
		return 0.9
	case RiskCritical:
		return 1.0
	default:
		return 1.0
	}
}

// Trigger matches an event against an event_type and a filter map. Filter
// values are either a literal (stringified for comparison) or
// "regex:<pattern>".
type Trigger struct {
	EventType string            `yaml:"event_type"`
	Filter    map[string]string `yaml:"filter"`
}

// Matches reports whether event satisfies the trigger's event type and
// every entry in its filter.
func (t Trigger) Matches(event *Event) bool {
	if event == nil || event.Type != t.EventType {
		return false
	}
	for key, want := range t.Filter {
		got, ok := event.Payload[key]
		if !ok {
			return false
		}
		gotStr := fmt.Sprint(got)
		if pattern, isRegex := strings.CutPrefix(want, "regex:"); isRegex {
			re, err := regexp.Compile(pattern)
			if err != nil || !re.MatchString(gotStr) {
				return false
			}
		} else if gotStr != want {
			return false
		}
	}
	return true
}

// Limits bounds how often a goal's action may execute.
type Limits struct {
	CooldownSeconds int `yaml:"cooldown_seconds"`
	MaxPerHour      int `yaml:"max_per_hour"`
	MaxPerDay       int `yaml:"max_per_day"`
}

// Action names the tool/operation a goal executes when it fires.
type Action struct {
	Tool string                 `yaml:"tool"`
	Args map[string]interface{} `yaml:"args"`
}

// Goal is a declarative autonomous rule evaluated by the decision engine.
type Goal struct {
	ID                  string    `yaml:"id"`
	Name                string    `yaml:"name"`
	Description         string    `yaml:"description"`
	Trigger             Trigger   `yaml:"trigger"`
	Action              Action    `yaml:"action"`
	RiskLevel           RiskLevel `yaml:"risk_level"`
	ConfidenceThreshold float64   `yaml:"confidence_threshold"`
	Limits              Limits    `yaml:"limits"`
	Enabled             bool      `yaml:"enabled"`
	RequiresApproval    bool      `yaml:"requires_approval"`

	// FailureCount is runtime state, not loaded from YAML.
	FailureCount int `yaml:"-"`

	// Execution bookkeeping, mutated only by RecordExecution. Not
	// loaded/saved; the goal manager serializes access to these under its
	// own lock, mirroring the rest of the domain's single-mutex-per-owner
	// convention.
	lastTriggered      time.Time
	executionsThisHour int
	hourReset          time.Time
	executionsToday    int
	dayReset           time.Time
}

// Matches reports whether the goal is enabled and its trigger fires for
// event.
func (g *Goal) Matches(event *Event) bool {
	return g.Enabled && g.Trigger.Matches(event)
}

// CanExecute reports whether the goal may fire right now, honoring its
// cooldown and hourly/daily execution limits. The returned reason is
// "OK" when execution is allowed.
func (g *Goal) CanExecute() (bool, string) {
	now := time.Now()

	if g.Limits.CooldownSeconds > 0 && !g.lastTriggered.IsZero() {
		cooldown := time.Duration(g.Limits.CooldownSeconds) * time.Second
		if elapsed := now.Sub(g.lastTriggered); elapsed < cooldown {
			return false, fmt.Sprintf("Cooldown active, %s remaining", (cooldown - elapsed).Round(time.Second))
		}
	}

	hourCount := g.executionsThisHour
	if !g.hourReset.IsZero() && now.After(g.hourReset) {
		hourCount = 0
	}
	if g.Limits.MaxPerHour > 0 && hourCount >= g.Limits.MaxPerHour {
		return false, fmt.Sprintf("Hourly limit reached (%d/%d)", hourCount, g.Limits.MaxPerHour)
	}

	dayCount := g.executionsToday
	if !g.dayReset.IsZero() && now.After(g.dayReset) {
		dayCount = 0
	}
	if g.Limits.MaxPerDay > 0 && dayCount >= g.Limits.MaxPerDay {
		return false, fmt.Sprintf("Daily limit reached (%d/%d)", dayCount, g.Limits.MaxPerDay)
	}

	return true, "OK"
}

// RecordExecution stamps the goal as having just fired, rolling the
// hourly/daily counters over when their window has elapsed.
func (g *Goal) RecordExecution() {
	now := time.Now()
	g.lastTriggered = now

	if g.hourReset.IsZero() || now.After(g.hourReset) {
		g.executionsThisHour = 0
		g.hourReset = now.Add(time.Hour)
	}
	g.executionsThisHour++

	if g.dayReset.IsZero() || now.After(g.dayReset) {
		g.executionsToday = 0
		g.dayReset = now.Add(24 * time.Hour)
	}
	g.executionsToday++
}

// RateLimitState reports the goal's current cooldown/rate-limit counters,
// so a caller can persist them across a restart.
func (g *Goal) RateLimitState() (lastTriggered time.Time, executionsThisHour int, hourReset time.Time, executionsToday int, dayReset time.Time) {
	return g.lastTriggered, g.executionsThisHour, g.hourReset, g.executionsToday, g.dayReset
}

// RestoreRateLimitState loads previously persisted cooldown/rate-limit
// counters, e.g. after the process restarts, so limits keep being
// honored across the restart instead of resetting to zero.
func (g *Goal) RestoreRateLimitState(lastTriggered time.Time, executionsThisHour int, hourReset time.Time, executionsToday int, dayReset time.Time) {
	g.lastTriggered = lastTriggered
	g.executionsThisHour = executionsThisHour
	g.hourReset = hourReset
	g.executionsToday = executionsToday
	g.dayReset = dayReset
}
