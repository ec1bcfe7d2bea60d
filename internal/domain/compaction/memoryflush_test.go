package compaction

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

func TestMemoryFlusher_ExtractsCandidates(t *testing.T) {
	dir := t.TempDir()
	flusher := NewMemoryFlusher(dir)

	messages := []entity.Message{
		{Role: entity.RoleAssistant, Content: "Remember: the staging DB credentials rotate weekly."},
		{Role: entity.RoleUser, Content: "just chatting, nothing notable here"},
	}

	if err := flusher.Flush(messages); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(dir, time.Now().Format("2006-01-02")+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected daily log to exist: %v", err)
	}
	if !strings.Contains(string(data), "staging DB credentials") {
		t.Fatalf("expected extracted fact in log, got: %s", data)
	}
}

func TestMemoryFlusher_NotesEmptyExtraction(t *testing.T) {
	dir := t.TempDir()
	flusher := NewMemoryFlusher(dir)

	messages := []entity.Message{
		{Role: entity.RoleUser, Content: "what's the weather like"},
	}
	if err := flusher.Flush(messages); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(dir, time.Now().Format("2006-01-02")+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected daily log to exist: %v", err)
	}
	if !strings.Contains(string(data), "no durable facts extracted") {
		t.Fatalf("expected fallback note, got: %s", data)
	}
}
