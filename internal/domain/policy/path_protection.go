package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// writeTools are the tool names considered filesystem writes for the
// purposes of PathProtection — any other tool is exempt from the check
// even if it happens to take a path argument.
var writeTools = map[string]struct{}{
	"write_file": {}, "edit_file": {}, "delete_file": {},
	"multi_edit": {}, "apply_patch": {},
	"exec_command": {}, "shell": {}, "bash": {},
	"notebook_tool": {},
}

// IsWriteOperation reports whether toolName performs filesystem writes.
func IsWriteOperation(toolName string) bool {
	_, ok := writeTools[toolName]
	return ok
}

// PathProtection guards against accidental writes outside the session's
// workspace. Paths inside the workspace are always allowed; paths outside
// require a per-session, per-directory approval that is cached once
// granted so the operator is only prompted once per external directory.
type PathProtection struct {
	mu            sync.Mutex
	workspaceRoot string
	approvals     map[string]map[string]bool // sessionID -> dirPath -> approved
}

var (
	instance     *PathProtection
	instanceOnce sync.Once
	instanceMu   sync.Mutex
)

// GetInstance returns the process-wide PathProtection singleton, setting
// the workspace root if one is given. Most callers should prefer
// constructing their own *PathProtection via New for testability; the
// singleton exists for the tool layer, which has no natural place to carry
// an injected instance through every call site.
func GetInstance(workspaceRoot string) *PathProtection {
	instanceOnce.Do(func() {
		instance = New()
	})
	if workspaceRoot != "" {
		instance.SetWorkspaceRoot(workspaceRoot)
	}
	return instance
}

// ResetInstance destroys the singleton. Tests only.
func ResetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
	instanceOnce = sync.Once{}
}

// New creates a standalone PathProtection instance.
func New() *PathProtection {
	return &PathProtection{approvals: make(map[string]map[string]bool)}
}

// SetWorkspaceRoot sets or updates the workspace root path.
func (p *PathProtection) SetWorkspaceRoot(root string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workspaceRoot = filepath.Clean(root)
}

// IsWithinWorkspace reports whether filePath resolves inside the workspace
// root. A protection with no configured root allows everything.
func (p *PathProtection) IsWithinWorkspace(filePath string) bool {
	p.mu.Lock()
	root := p.workspaceRoot
	p.mu.Unlock()

	if root == "" {
		return true
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return false
	}
	workspace, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	return abs == workspace || strings.HasPrefix(abs, workspace+string(os.PathSeparator))
}

// CheckPath reports whether access to filePath is allowed for sessionID. A
// false result carries a human-readable message explaining why, suitable
// for surfacing to an operator as an approval prompt.
func (p *PathProtection) CheckPath(filePath, sessionID, operation string) (bool, string) {
	p.mu.Lock()
	root := p.workspaceRoot
	p.mu.Unlock()

	if root == "" {
		return true, ""
	}
	if p.IsWithinWorkspace(filePath) {
		return true, ""
	}

	dirPath := dirOf(filePath)

	p.mu.Lock()
	cached, hasCached := p.approvals[sessionID][dirPath]
	p.mu.Unlock()

	if hasCached {
		if cached {
			return true, ""
		}
		return false, fmt.Sprintf("access to %q outside the project was previously denied", dirPath)
	}

	return false, fmt.Sprintf(
		"agent wants to %s %q which is outside the project workspace (%s). allow access to %q?",
		operation, filePath, root, dirPath,
	)
}

// RecordApproval caches the operator's decision for filePath's directory
// within sessionID.
func (p *PathProtection) RecordApproval(sessionID, filePath string, approved bool) {
	dirPath := dirOf(filePath)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.approvals[sessionID] == nil {
		p.approvals[sessionID] = make(map[string]bool)
	}
	p.approvals[sessionID][dirPath] = approved
}

// ClearSession removes all cached approvals for sessionID.
func (p *PathProtection) ClearSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.approvals, sessionID)
}

func dirOf(filePath string) string {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		abs = filePath
	}
	return filepath.Dir(abs)
}
