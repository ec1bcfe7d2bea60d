package policy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Maximum file sizes enforced by FileValidator.
const (
	MaxReadSize  = 10 * 1024 * 1024 // 10 MB
	MaxWriteSize = 5 * 1024 * 1024  // 5 MB
)

type pathPattern struct {
	re     *regexp.Regexp
	reason string
}

func compilePathPatterns(pairs [][2]string) []pathPattern {
	out := make([]pathPattern, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, pathPattern{re: regexp.MustCompile("(?i)" + p[0]), reason: p[1]})
	}
	return out
}

// defaultBlockedFilePatterns flags paths that look like secrets, keys, or
// credentials regardless of what tool is reading or writing them.
var defaultBlockedFilePatterns = [][2]string{
	{`\.env$`, "environment file with potential secrets"},
	{`\.env\.[a-zA-Z0-9_]+$`, "environment file variant"},
	{`secrets?\.(json|yaml|yml|toml)$`, "secrets configuration file"},
	{`credentials?\.(json|yaml|yml|toml)$`, "credentials file"},
	{`\.pem$`, "PEM certificate/key file"},
	{`\.key$`, "private key file"},
	{`\.p12$`, "PKCS#12 certificate file"},
	{`\.pfx$`, "PFX certificate file"},
	{`id_rsa`, "SSH private key"},
	{`id_ed25519`, "SSH private key (Ed25519)"},
	{`id_ecdsa`, "SSH private key (ECDSA)"},
	{`id_dsa`, "SSH private key (DSA)"},
	{`\.aws/credentials$`, "AWS credentials file"},
	{`\.aws/config$`, "AWS config file"},
	{`gcloud.*\.json$`, "Google Cloud credentials"},
	{`service[-_]?account.*\.json$`, "service account credentials"},
	{`\.npmrc$`, "NPM config with potential tokens"},
	{`\.pypirc$`, "PyPI config with potential tokens"},
	{`\.netrc$`, "network credentials file"},
	{`\.docker/config\.json$`, "Docker config with potential tokens"},
	{`\.sqlite3?$`, "SQLite database file"},
	{`\.db$`, "database file"},
}

// defaultBlockedDirectories flags directories whose contents are either
// internal tooling state or too large/noisy to be worth an agent reading.
var defaultBlockedDirectories = [][2]string{
	{`\.git/objects`, "git object storage"},
	{`\.git/hooks`, "git hooks directory"},
	{`\.git/refs`, "git references"},
	{`node_modules/\.bin`, "Node.js binary directory"},
	{`node_modules/\.cache`, "Node.js cache directory"},
	{`__pycache__`, "Python bytecode cache"},
	{`\.pytest_cache`, "pytest cache"},
	{`\.mypy_cache`, "mypy cache"},
	{`\.venv/`, "Python virtual environment"},
	{`venv/`, "Python virtual environment"},
	{`\.virtualenv/`, "Python virtual environment"},
	{`dist/`, "distribution directory"},
	{`build/`, "build directory"},
	{`\.next/`, "Next.js build directory"},
	{`\.idea/`, "IntelliJ IDEA directory"},
	{`\.vscode/`, "VS Code directory"},
}

// FileValidation is the outcome of a FileValidator check.
type FileValidation struct {
	Safe           bool
	Reason         string
	MatchedPattern string
	Severity       string // "info", "warning", "critical"
}

func safeFile() FileValidation { return FileValidation{Safe: true} }

func unsafeFile(reason, pattern, severity string) FileValidation {
	return FileValidation{Safe: false, Reason: reason, MatchedPattern: pattern, Severity: severity}
}

// FileValidator checks file-tool paths and sizes against sensitive-path and
// size-limit rules, independent of PathProtection's workspace-boundary
// check — this is a defense-in-depth layer; approval remains primary.
type FileValidator struct {
	maxReadSize        int64
	maxWriteSize        int64
	blockedFiles        []pathPattern
	blockedDirectories  []pathPattern
	allowedExtensions   map[string]struct{}
}

// NewFileValidator builds a FileValidator with the default pattern tables.
func NewFileValidator() *FileValidator {
	return &FileValidator{
		maxReadSize:        MaxReadSize,
		maxWriteSize:       MaxWriteSize,
		blockedFiles:       compilePathPatterns(defaultBlockedFilePatterns),
		blockedDirectories: compilePathPatterns(defaultBlockedDirectories),
		allowedExtensions:  map[string]struct{}{},
	}
}

// ValidateRead checks a read operation. fileSize of -1 skips the size check.
func (v *FileValidator) ValidateRead(path string, fileSize int64) FileValidation {
	if r := v.checkBlockedPath(path); !r.Safe {
		return r
	}
	if fileSize >= 0 && fileSize > v.maxReadSize {
		return unsafeFile(fmt.Sprintf("file too large: %d bytes (max: %d)", fileSize, v.maxReadSize), "", "warning")
	}
	return safeFile()
}

// ValidateWrite checks a write operation. contentSize of -1 skips the size check.
func (v *FileValidator) ValidateWrite(path string, contentSize int64) FileValidation {
	if r := v.checkBlockedPath(path); !r.Safe {
		return r
	}
	if contentSize >= 0 && contentSize > v.maxWriteSize {
		return unsafeFile(fmt.Sprintf("content too large: %d bytes (max: %d)", contentSize, v.maxWriteSize), "", "warning")
	}
	return safeFile()
}

// ValidateDelete checks a delete operation.
func (v *FileValidator) ValidateDelete(path string) FileValidation {
	return v.checkBlockedPath(path)
}

// ValidateList checks a directory-listing operation — directory patterns
// only, since listing a blocked directory's name doesn't read its contents.
func (v *FileValidator) ValidateList(path string) FileValidation {
	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, p := range v.blockedDirectories {
		if p.re.MatchString(normalized) {
			return unsafeFile("access to blocked directory: "+p.reason, p.re.String(), "warning")
		}
	}
	return safeFile()
}

func (v *FileValidator) checkBlockedPath(path string) FileValidation {
	normalized := strings.ReplaceAll(path, "\\", "/")

	for _, p := range v.blockedFiles {
		if p.re.MatchString(normalized) {
			return unsafeFile("access to sensitive file blocked: "+p.reason, p.re.String(), "critical")
		}
	}
	for _, p := range v.blockedDirectories {
		if p.re.MatchString(normalized) {
			return unsafeFile("access to blocked directory: "+p.reason, p.re.String(), "warning")
		}
	}
	return safeFile()
}

// AddBlockedPattern registers a custom sensitive-file pattern.
func (v *FileValidator) AddBlockedPattern(pattern, reason string) {
	v.blockedFiles = append(v.blockedFiles, pathPattern{re: regexp.MustCompile("(?i)" + pattern), reason: reason})
}

// AddAllowedExtension registers an extension for IsExtensionAllowed's
// allowlist mode (unused until a caller adds at least one entry).
func (v *FileValidator) AddAllowedExtension(ext string) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	v.allowedExtensions[strings.ToLower(ext)] = struct{}{}
}

// IsExtensionAllowed reports whether path's extension passes the allowlist.
// With no allowlist configured, every extension is allowed.
func (v *FileValidator) IsExtensionAllowed(path string) bool {
	if len(v.allowedExtensions) == 0 {
		return true
	}
	_, ok := v.allowedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
