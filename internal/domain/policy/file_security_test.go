package policy

import "testing"

func TestFileValidator_BlocksEnvFile(t *testing.T) {
	v := NewFileValidator()
	r := v.ValidateRead("/home/user/project/.env", -1)
	if r.Safe {
		t.Fatal("expected .env read to be blocked")
	}
	if r.Severity != "critical" {
		t.Fatalf("expected critical severity, got %q", r.Severity)
	}
}

func TestFileValidator_BlocksSSHKey(t *testing.T) {
	v := NewFileValidator()
	if v.ValidateRead("/home/user/.ssh/id_rsa", -1).Safe {
		t.Fatal("expected SSH private key read to be blocked")
	}
}

func TestFileValidator_AllowsOrdinaryFile(t *testing.T) {
	v := NewFileValidator()
	r := v.ValidateRead("/home/user/project/main.go", 1024)
	if !r.Safe {
		t.Fatalf("expected ordinary file allowed, got reason %q", r.Reason)
	}
}

func TestFileValidator_ReadSizeLimit(t *testing.T) {
	v := NewFileValidator()
	r := v.ValidateRead("/tmp/big.txt", MaxReadSize+1)
	if r.Safe {
		t.Fatal("expected oversized read to be blocked")
	}
	if r.Severity != "warning" {
		t.Fatalf("expected warning severity for size limit, got %q", r.Severity)
	}
}

func TestFileValidator_WriteSizeLimit(t *testing.T) {
	v := NewFileValidator()
	r := v.ValidateWrite("/tmp/big.txt", MaxWriteSize+1)
	if r.Safe {
		t.Fatal("expected oversized write to be blocked")
	}
}

func TestFileValidator_BlocksGitObjects(t *testing.T) {
	v := NewFileValidator()
	if v.ValidateRead("/repo/.git/objects/ab/cdef", -1).Safe {
		t.Fatal("expected git object read to be blocked")
	}
}

func TestFileValidator_ValidateList(t *testing.T) {
	v := NewFileValidator()
	if v.ValidateList("/repo/node_modules/.bin").Safe {
		t.Fatal("expected listing node_modules/.bin to be blocked")
	}
	if !v.ValidateList("/repo/src").Safe {
		t.Fatal("expected listing an ordinary directory to be allowed")
	}
}

func TestFileValidator_ValidateDelete(t *testing.T) {
	v := NewFileValidator()
	if v.ValidateDelete("/home/user/.aws/credentials").Safe {
		t.Fatal("expected deleting AWS credentials to be blocked")
	}
}

func TestFileValidator_AddBlockedPattern(t *testing.T) {
	v := NewFileValidator()
	v.AddBlockedPattern(`internal-only\.conf$`, "custom internal config guard")

	r := v.ValidateRead("/etc/app/internal-only.conf", -1)
	if r.Safe {
		t.Fatal("expected custom blocked pattern to apply")
	}
	if r.Reason != "access to sensitive file blocked: custom internal config guard" {
		t.Fatalf("unexpected reason: %q", r.Reason)
	}
}

func TestFileValidator_ExtensionAllowlist(t *testing.T) {
	v := NewFileValidator()
	if !v.IsExtensionAllowed("main.go") {
		t.Fatal("expected no allowlist to permit any extension")
	}

	v.AddAllowedExtension(".go")
	if !v.IsExtensionAllowed("main.go") {
		t.Fatal("expected .go to be allowed after adding it")
	}
	if v.IsExtensionAllowed("main.py") {
		t.Fatal("expected .py to be rejected once an allowlist is set")
	}
}
