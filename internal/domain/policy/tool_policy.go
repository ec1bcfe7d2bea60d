// Package policy implements tool access control (allow/deny profiles over
// named tool groups) and workspace path protection (blocking writes outside
// the session's workspace until an operator approves the external
// directory).
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ToolGroups maps a group reference to the individual tool names it expands
// to. Policies reference groups (e.g. "group:fs") instead of enumerating
// every tool, so adding a tool to a group updates every profile at once.
var ToolGroups = map[string][]string{
	"group:fs": {
		"read_file", "write_file", "edit_file", "delete_file",
		"read", "write", "edit",
		"glob_tool", "grep_tool", "notebook_tool",
		"read_directory", "list_directory",
	},
	"group:runtime": {
		"exec_command", "process_tool",
		"shell", "execute", "bash",
		"sandbox_run_command",
	},
	"group:web": {
		"internet_search", "fetch_url", "web_search",
		"web_fetch", "http_request",
	},
	"group:memory": {
		"memory_search", "codebase_search_tool",
		"memory_summarize",
	},
	"group:patch": {
		"apply_patch",
	},
	"group:lsp": {
		"lsp_tool",
	},
	"group:lint": {
		"lint_tool",
	},
	"group:revert": {
		"undo_last", "undo_to", "unrevert", "show_undo_history",
	},
}

// profileDef is a built-in named allow/deny list.
type profileDef struct {
	Allow []string
	Deny  []string
}

// Profiles are the built-in named policies a deployment can select by name.
var Profiles = map[string]profileDef{
	"minimal": {
		Allow: []string{"group:fs", "group:memory", "internet_search", "fetch_url", "ask_user"},
		Deny:  []string{"group:runtime", "group:patch", "write_file", "edit_file", "delete_file"},
	},
	"coding": {
		Allow: []string{
			"group:fs", "group:runtime", "group:web", "group:memory", "group:patch",
			"ask_user", "task", "run_skill", "schedule_reminder", "deep_reasoning",
		},
	},
	"messaging": {
		Allow: []string{
			"group:fs", "group:runtime", "group:web", "group:memory", "group:patch",
			"ask_user", "task", "run_skill", "schedule_reminder", "deep_reasoning",
		},
	},
	"full": {
		Allow: []string{"*"},
	},
}

// ToolPolicy is a resolved allow/deny policy ready to evaluate tool names
// against.
type ToolPolicy struct {
	Allow   []string `yaml:"allow"`
	Deny    []string `yaml:"deny"`
	Profile string   `yaml:"profile"`
}

func expandGroups(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		if members, ok := ToolGroups[item]; ok {
			for _, m := range members {
				out[m] = struct{}{}
			}
			continue
		}
		out[item] = struct{}{}
	}
	return out
}

// IsToolAllowed reports whether name is permitted, deny always winning over
// allow. An empty allow-list (after group expansion) means "allow anything
// not explicitly denied".
func (p ToolPolicy) IsToolAllowed(name string) bool {
	denied := expandGroups(p.Deny)
	allowed := expandGroups(p.Allow)

	if _, ok := denied[name]; ok {
		return false
	}
	if _, ok := allowed["*"]; ok {
		return true
	}
	if _, ok := allowed[name]; ok {
		return true
	}
	if len(allowed) > 0 {
		return false
	}
	return true
}

// Manager loads a ToolPolicy from ~/.ag3nt/tool_policy.yaml (or an
// explicit path) and caches the resolved result.
type Manager struct {
	mu         sync.Mutex
	configPath string
	policy     *ToolPolicy
}

// NewManager creates a manager reading from the given config path. An empty
// path resolves to DefaultPolicyPath().
func NewManager(configPath string) *Manager {
	if configPath == "" {
		configPath = DefaultPolicyPath()
	}
	return &Manager{configPath: configPath}
}

// DefaultPolicyPath returns ~/.ag3nt/tool_policy.yaml.
func DefaultPolicyPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ag3nt", "tool_policy.yaml")
}

type policyDocument struct {
	Profile string   `yaml:"profile"`
	Allow   []string `yaml:"allow"`
	Deny    []string `yaml:"deny"`
}

// LoadPolicy resolves the active policy: an explicit allow/deny in the
// config document wins outright; otherwise a named profile (from the
// config, the AG3NT_TOOL_PROFILE env var, or "coding" as the default)
// supplies the allow/deny lists. The result is cached — call ResetCache to
// force a re-read.
func (m *Manager) LoadPolicy() (ToolPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.policy != nil {
		return *m.policy, nil
	}

	override := os.Getenv("AG3NT_TOOL_PROFILE")

	doc, err := m.readConfig()
	if err != nil {
		return ToolPolicy{}, err
	}

	var resolved ToolPolicy
	switch {
	case doc != nil:
		profile := doc.Profile
		if override != "" {
			profile = override
		}
		if profile == "" {
			profile = "coding"
		}
		allow, deny := doc.Allow, doc.Deny
		if len(allow) == 0 && len(deny) == 0 {
			if def, ok := Profiles[profile]; ok {
				allow, deny = def.Allow, def.Deny
			}
		}
		resolved = ToolPolicy{Allow: allow, Deny: deny, Profile: profile}
	case override != "":
		if def, ok := Profiles[override]; ok {
			resolved = ToolPolicy{Allow: def.Allow, Deny: def.Deny, Profile: override}
		} else {
			def := Profiles["coding"]
			resolved = ToolPolicy{Allow: def.Allow, Deny: def.Deny, Profile: "coding"}
		}
	default:
		def := Profiles["coding"]
		resolved = ToolPolicy{Allow: def.Allow, Deny: def.Deny, Profile: "coding"}
	}

	m.policy = &resolved
	return resolved, nil
}

// ResetCache forces the next LoadPolicy call to re-read the config file.
func (m *Manager) ResetCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = nil
}

func (m *Manager) readConfig() (*policyDocument, error) {
	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tool policy config: %w", err)
	}
	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tool policy config: %w", err)
	}
	return &doc, nil
}

// FilterTools returns the subset of toolNames the active policy allows,
// along with the names that were removed (for an audit log line).
func (m *Manager) FilterTools(toolNames []string) (allowed, removed []string, err error) {
	p, err := m.LoadPolicy()
	if err != nil {
		return nil, nil, err
	}
	for _, name := range toolNames {
		if p.IsToolAllowed(name) {
			allowed = append(allowed, name)
		} else {
			removed = append(removed, name)
		}
	}
	return allowed, removed, nil
}
