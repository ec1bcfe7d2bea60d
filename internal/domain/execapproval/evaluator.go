// Package execapproval decides, without a human in the loop, whether a
// shell command can run automatically ("allow"), needs operator sign-off
// ("ask"), or must never run ("deny"). It never executes anything itself —
// internal/infrastructure/sandbox does that; the orchestrator consults this
// package's verdict before handing a command to the sandbox.
package execapproval

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Decision is the closed set of verdicts an evaluation can reach.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionAsk   Decision = "ask"
	DecisionDeny  Decision = "deny"
)

// Result is the outcome of evaluating one command.
type Result struct {
	Decision    Decision
	Reason      string
	MatchedRule string
}

// AskMode controls how the auto/never/always toggle overrides the
// safe-binary analysis.
type AskMode string

const (
	AskModeAuto   AskMode = "auto"
	AskModeNever  AskMode = "never"
	AskModeAlways AskMode = "always"
)

// denyPattern pairs a compiled regex with the reason it exists, matching
// exec_policy.yaml's deny_patterns documents.
type denyPattern struct {
	re     *regexp.Regexp
	reason string
}

var defaultDenyPatterns = []struct {
	pattern string
	reason  string
}{
	{`\brm\s+-[a-zA-Z]*r[a-zA-Z]*f`, "recursive force delete"},
	{`\bmkfs\b`, "filesystem format"},
	{`\bdd\s+.*if=/dev/(zero|random)`, "disk overwrite"},
	{`:\(\)\s*\{`, "fork bomb"},
	{`\bsudo\s+rm\b`, "sudo rm"},
	{`>\s*/dev/[sh]d[a-z]`, "direct disk write"},
	{`\bchmod\s+777\s+/`, "dangerous chmod on root"},
	{`\b(curl|wget)\b.*\|\s*(ba|z)?sh\b`, "piped remote fetch to shell"},
}

// SafeBins is the read-only binary allow-list evaluated without approval.
var SafeBins = map[string]struct{}{
	"ls": {}, "dir": {}, "stat": {}, "file": {}, "wc": {}, "du": {}, "df": {},
	"cat": {}, "head": {}, "tail": {}, "less": {}, "more": {}, "bat": {},
	"grep": {}, "egrep": {}, "fgrep": {}, "rg": {}, "ag": {}, "ack": {},
	"find": {}, "fd": {}, "locate": {}, "which": {}, "whereis": {}, "type": {},
	"sort": {}, "uniq": {}, "cut": {}, "tr": {}, "awk": {}, "sed": {},
	"diff": {}, "comm": {}, "jq": {}, "yq": {}, "xq": {},
	"echo": {}, "printf": {}, "date": {}, "cal": {},
	"uname": {}, "hostname": {}, "whoami": {}, "id": {},
	"pwd": {}, "env": {}, "printenv": {},
	"uptime": {}, "free": {}, "top": {}, "htop": {},
	"ps": {}, "pgrep": {},
	"ping": {}, "dig": {}, "nslookup": {}, "host": {},
	"curl": {}, "wget": {},
	"python": {}, "python3": {}, "node": {}, "ruby": {}, "perl": {},
	"pip": {}, "npm": {}, "yarn": {}, "pnpm": {}, "cargo": {}, "go": {},
	"make": {}, "cmake": {},
	"java": {}, "javac": {}, "dotnet": {}, "rustc": {}, "gcc": {}, "g++": {},
}

// SafeGitSubcommands is the set of read-only git subcommands.
var SafeGitSubcommands = map[string]struct{}{
	"status": {}, "log": {}, "diff": {}, "branch": {}, "tag": {},
	"show": {}, "stash": {}, "remote": {}, "config": {},
	"ls-files": {}, "ls-tree": {}, "rev-parse": {}, "describe": {},
	"blame": {}, "shortlog": {}, "reflog": {},
}

// Policy is the on-disk document an Evaluator loads, usually from
// ~/.ag3nt/exec_policy.yaml.
type Policy struct {
	AskMode      AskMode  `yaml:"ask_mode"`
	Allowlist    []string `yaml:"allowlist"`
	ExtraSafeBins []string `yaml:"safe_bins"`
	DenyPatterns []struct {
		Pattern string `yaml:"pattern"`
		Reason  string `yaml:"reason"`
	} `yaml:"deny_patterns"`
}

// Evaluator makes allow/ask/deny decisions for shell commands.
type Evaluator struct {
	mu            sync.RWMutex
	askMode       AskMode
	allowlist     []string
	extraSafeBins map[string]struct{}
	deny          []denyPattern
}

// NewEvaluator builds an evaluator with the default deny patterns and no
// policy overrides.
func NewEvaluator() *Evaluator {
	e := &Evaluator{askMode: AskModeAuto, extraSafeBins: map[string]struct{}{}}
	for _, d := range defaultDenyPatterns {
		e.deny = append(e.deny, denyPattern{re: regexp.MustCompile("(?i)" + d.pattern), reason: d.reason})
	}
	return e
}

// SetAskMode overrides the evaluator's ask mode directly, independent of
// any policy file. A later LoadPolicy call still wins if it sets a
// non-empty AskMode of its own.
func (e *Evaluator) SetAskMode(mode AskMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.askMode = mode
}

// LoadPolicy reads and applies a policy document from path. A missing file
// is not an error — the evaluator keeps its defaults.
func (e *Evaluator) LoadPolicy(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read exec policy: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return fmt.Errorf("parse exec policy: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if policy.AskMode != "" {
		e.askMode = policy.AskMode
	}
	e.allowlist = policy.Allowlist
	for _, bin := range policy.ExtraSafeBins {
		e.extraSafeBins[bin] = struct{}{}
	}
	for _, d := range policy.DenyPatterns {
		re, err := regexp.Compile("(?i)" + d.Pattern)
		if err != nil {
			continue
		}
		e.deny = append(e.deny, denyPattern{re: re, reason: d.Reason})
	}
	return nil
}

// DefaultPolicyPath returns ~/.ag3nt/exec_policy.yaml.
func DefaultPolicyPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ag3nt", "exec_policy.yaml")
}

// Evaluate decides whether command may run automatically.
//
// Decision order: deny patterns, ask-mode override, allowlist match, then a
// per-pipeline-segment safe-binary scan — every segment of a chained or
// piped command must be individually safe for the whole command to pass
// without approval.
func (e *Evaluator) Evaluate(command string) Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if strings.TrimSpace(command) == "" {
		return Result{Decision: DecisionDeny, Reason: "empty command"}
	}

	for _, d := range e.deny {
		if d.re.MatchString(command) {
			return Result{Decision: DecisionDeny, Reason: d.reason, MatchedRule: "deny:" + d.re.String()}
		}
	}

	switch e.askMode {
	case AskModeNever:
		return Result{Decision: DecisionAllow, Reason: "ask mode is 'never'", MatchedRule: "mode:never"}
	case AskModeAlways:
		return Result{Decision: DecisionAsk, Reason: "ask mode is 'always'", MatchedRule: "mode:always"}
	}

	if e.matchesAllowlist(command) {
		return Result{Decision: DecisionAllow, Reason: "matched allowlist pattern", MatchedRule: "allowlist"}
	}

	segments := SplitPipeline(command)
	allSafe := len(segments) > 0
	for _, seg := range segments {
		base := ExtractBaseCommand(seg)
		switch {
		case isVersionFlag(seg):
		case base == "git" && isSafeGit(seg):
		case e.isSafeBin(base):
		default:
			allSafe = false
		}
		if !allSafe {
			break
		}
	}
	if allSafe {
		return Result{Decision: DecisionAllow, Reason: "all pipeline segments use safe binaries", MatchedRule: "safe_bins"}
	}

	trunc := command
	if len(trunc) > 60 {
		trunc = trunc[:60]
	}
	return Result{Decision: DecisionAsk, Reason: "command requires approval: " + trunc, MatchedRule: "default"}
}

func (e *Evaluator) isSafeBin(base string) bool {
	if _, ok := SafeBins[base]; ok {
		return true
	}
	_, ok := e.extraSafeBins[base]
	return ok
}

func (e *Evaluator) matchesAllowlist(command string) bool {
	base := ExtractBaseCommand(command)
	resolved := ""
	if base != "" {
		if p, err := exec.LookPath(base); err == nil {
			resolved = p
		}
	}
	for _, pattern := range e.allowlist {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if resolved != "" {
			if ok, _ := filepath.Match(pattern, resolved); ok {
				return true
			}
		}
	}
	return false
}

var chainOps = regexp.MustCompile(`\s*(?:&&|\|\||;)\s*`)
var pipeOp = regexp.MustCompile(`\s*\|\s*`)

// SplitPipeline breaks a shell command into its chained (&&, ||, ;) and
// piped (|) components, so each can be checked individually.
func SplitPipeline(command string) []string {
	var out []string
	for _, chainPart := range chainOps.Split(command, -1) {
		for _, p := range pipeOp.Split(strings.TrimSpace(chainPart), -1) {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// ExtractBaseCommand returns the base binary name from a command segment,
// unwrapping an `env VAR=val cmd` prefix and any path component.
func ExtractBaseCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	cmd := fields[0]
	if cmd == "env" && len(fields) > 1 {
		for _, part := range fields[1:] {
			if !strings.Contains(part, "=") {
				cmd = part
				break
			}
		}
	}
	if idx := strings.LastIndexByte(cmd, '/'); idx >= 0 {
		cmd = cmd[idx+1:]
	}
	if idx := strings.LastIndexByte(cmd, '\\'); idx >= 0 {
		cmd = cmd[idx+1:]
	}
	return cmd
}

func isVersionFlag(command string) bool {
	fields := strings.Fields(command)
	if len(fields) != 2 {
		return false
	}
	switch fields[1] {
	case "--version", "-V", "-v", "--help", "-h":
		return true
	}
	return false
}

func isSafeGit(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 || fields[0] != "git" {
		return false
	}
	for i := 1; i < len(fields); i++ {
		part := fields[i]
		if part == "-C" || part == "--git-dir" || part == "--work-tree" {
			i++ // skip the flag's argument
			continue
		}
		if !strings.HasPrefix(part, "-") {
			_, ok := SafeGitSubcommands[part]
			return ok
		}
	}
	return false
}
