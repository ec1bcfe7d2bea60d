// Package artifact provides content-addressed persistent storage for large
// tool outputs, so the live conversation can carry a short reference
// instead of the full payload. It backs compaction's observation-masking
// stage via the Write method.
package artifact

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/ag3nt-run/ag3nt/pkg/errors"
)

// Default settings mirroring the retention policy of the artifact store
// this package is grounded on.
const (
	DefaultMaxAgeDays   = 30
	DefaultMaxSizeBytes = 10 * 1024 * 1024 // 10 MB
)

// Meta is the metadata recorded for a stored artifact.
type Meta struct {
	ArtifactID  string    `json:"artifact_id"`
	ToolName    string    `json:"tool_name"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int       `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	SourceURL   string    `json:"source_url,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Store is thread-safe content-addressable storage for tool outputs: a
// content file per artifact plus an append-only JSON-Lines metadata
// ledger, with an in-memory cache for lookups.
type Store struct {
	artifactsDir string
	contentDir   string
	metadataFile string
	maxAgeDays   int
	maxSizeBytes int
	logger       *zap.Logger

	mu          sync.Mutex
	cache       map[string]Meta
	initialized bool
}

// DefaultArtifactsDir returns ~/.ag3nt/artifacts.
func DefaultArtifactsDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ag3nt", "artifacts")
}

// NewStore builds a Store rooted at artifactsDir (DefaultArtifactsDir if
// empty).
func NewStore(artifactsDir string, maxAgeDays, maxSizeBytes int, logger *zap.Logger) *Store {
	if artifactsDir == "" {
		artifactsDir = DefaultArtifactsDir()
	}
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultMaxAgeDays
	}
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxSizeBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		artifactsDir: artifactsDir,
		contentDir:   filepath.Join(artifactsDir, "content"),
		metadataFile: filepath.Join(artifactsDir, "metadata.jsonl"),
		maxAgeDays:   maxAgeDays,
		maxSizeBytes: maxSizeBytes,
		logger:       logger,
		cache:        make(map[string]Meta),
	}
}

func (s *Store) ensureInitialized() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := os.MkdirAll(s.contentDir, 0o755); err != nil {
		return fmt.Errorf("create artifact content dir: %w", err)
	}
	s.loadMetadataLocked()
	s.initialized = true
	return nil
}

func (s *Store) loadMetadataLocked() {
	f, err := os.Open(s.metadataFile)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var m Meta
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			s.logger.Warn("skipping invalid artifact metadata line", zap.Error(err))
			continue
		}
		s.cache[m.ArtifactID] = m
	}
}

func (s *Store) contentPath(artifactID string) string {
	return filepath.Join(s.contentDir, artifactID+".txt")
}

// Write implements compaction.ArtifactWriter: it stores content and
// returns the new artifact's ID. contentType is recorded as the tool name.
func (s *Store) Write(ctx context.Context, content []byte, contentType string) (string, error) {
	meta, err := s.WriteArtifact(string(content), contentType, "", "", nil)
	if err != nil {
		return "", err
	}
	return meta.ArtifactID, nil
}

// WriteArtifact stores content under tool-provenance metadata, deduplicating
// by content hash: writing the same bytes twice returns the existing
// artifact rather than creating a duplicate.
func (s *Store) WriteArtifact(content, toolName, sourceURL, sessionID string, tags []string) (Meta, error) {
	if err := s.ensureInitialized(); err != nil {
		return Meta{}, err
	}

	contentBytes := []byte(content)
	if len(contentBytes) > s.maxSizeBytes {
		return Meta{}, apperrors.NewQuotaError(
			fmt.Sprintf("artifact size (%d bytes) exceeds maximum (%d bytes)", len(contentBytes), s.maxSizeBytes))
	}

	sum := sha256.Sum256(contentBytes)
	contentHash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	for _, existing := range s.cache {
		if existing.ContentHash == contentHash {
			s.mu.Unlock()
			s.logger.Debug("artifact already exists", zap.String("content_hash", contentHash[:12]))
			return existing, nil
		}
	}
	s.mu.Unlock()

	artifactID := generateArtifactID(contentHash)

	if err := os.WriteFile(s.contentPath(artifactID), contentBytes, 0o644); err != nil {
		return Meta{}, apperrors.NewStorageError("write artifact content", err)
	}

	meta := Meta{
		ArtifactID:  artifactID,
		ToolName:    toolName,
		ContentHash: contentHash,
		SizeBytes:   len(contentBytes),
		CreatedAt:   time.Now().UTC(),
		SourceURL:   sourceURL,
		SessionID:   sessionID,
		Tags:        tags,
	}
	if err := s.appendMetadata(meta); err != nil {
		return Meta{}, err
	}

	s.logger.Info("stored artifact", zap.String("artifact_id", artifactID), zap.Int("size_bytes", len(contentBytes)))
	return meta, nil
}

func (s *Store) appendMetadata(meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal artifact metadata: %w", err)
	}
	f, err := os.OpenFile(s.metadataFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperrors.NewStorageError("open artifact metadata ledger", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return apperrors.NewStorageError("append artifact metadata", err)
	}
	s.cache[meta.ArtifactID] = meta
	return nil
}

func generateArtifactID(contentHash string) string {
	prefix := contentHash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return fmt.Sprintf("%s_%x", prefix, time.Now().UnixMilli())
}

// ReadArtifact returns an artifact's content by ID, or false if not found.
func (s *Store) ReadArtifact(artifactID string) (string, bool, error) {
	if err := s.ensureInitialized(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	_, ok := s.cache[artifactID]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("artifact not found in metadata", zap.String("artifact_id", artifactID))
		return "", false, nil
	}

	data, err := os.ReadFile(s.contentPath(artifactID))
	if os.IsNotExist(err) {
		s.logger.Warn("artifact file missing", zap.String("artifact_id", artifactID))
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewStorageError("read artifact content", err)
	}
	return string(data), true, nil
}

// GetMetadata returns an artifact's metadata by ID.
func (s *Store) GetMetadata(artifactID string) (Meta, bool, error) {
	if err := s.ensureInitialized(); err != nil {
		return Meta{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.cache[artifactID]
	return m, ok, nil
}

// ListFilter narrows ListArtifacts results.
type ListFilter struct {
	ToolName  string
	SessionID string
	Tags      []string
	Limit     int
}

// ListArtifacts returns artifacts matching filter, most recently created
// first.
func (s *Store) ListArtifacts(filter ListFilter) ([]Meta, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	var results []Meta
	for _, m := range s.cache {
		if filter.ToolName != "" && m.ToolName != filter.ToolName {
			continue
		}
		if filter.SessionID != "" && m.SessionID != filter.SessionID {
			continue
		}
		if len(filter.Tags) > 0 && !anyTagMatches(m.Tags, filter.Tags) {
			continue
		}
		results = append(results, m)
	}
	s.mu.Unlock()

	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.After(results[j].CreatedAt) })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func anyTagMatches(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// DeleteArtifact removes an artifact's content file and metadata entry.
func (s *Store) DeleteArtifact(artifactID string) (bool, error) {
	if err := s.ensureInitialized(); err != nil {
		return false, err
	}

	s.mu.Lock()
	if _, ok := s.cache[artifactID]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.cache, artifactID)
	s.mu.Unlock()

	if err := os.Remove(s.contentPath(artifactID)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to delete artifact file", zap.String("artifact_id", artifactID), zap.Error(err))
	}

	s.logger.Info("deleted artifact", zap.String("artifact_id", artifactID))
	return true, nil
}

// CleanupStale removes artifacts older than maxAgeDays (the store's
// configured default if 0), rewriting the metadata ledger afterward.
func (s *Store) CleanupStale(maxAgeDays int) (int, error) {
	if err := s.ensureInitialized(); err != nil {
		return 0, err
	}
	if maxAgeDays <= 0 {
		maxAgeDays = s.maxAgeDays
	}
	cutoff := time.Now().UTC().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	s.mu.Lock()
	var staleIDs []string
	for id, m := range s.cache {
		if m.CreatedAt.Before(cutoff) {
			staleIDs = append(staleIDs, id)
		}
	}
	s.mu.Unlock()

	deleted := 0
	for _, id := range staleIDs {
		ok, err := s.DeleteArtifact(id)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}

	if deleted > 0 {
		if err := s.rewriteMetadata(); err != nil {
			return deleted, err
		}
	}
	s.logger.Info("cleaned up stale artifacts", zap.Int("count", deleted))
	return deleted, nil
}

func (s *Store) rewriteMetadata() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(s.metadataFile)
	if err != nil {
		return apperrors.NewStorageError("rewrite artifact metadata ledger", err)
	}
	defer f.Close()

	for _, m := range s.cache {
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return apperrors.NewStorageError("rewrite artifact metadata ledger", err)
		}
	}
	return nil
}

// Stats summarizes the store's current contents.
type Stats struct {
	TotalArtifacts int
	TotalSizeBytes int64
	ArtifactsDir   string
}

// GetStats computes summary counters over the in-memory metadata cache.
func (s *Store) GetStats() (Stats, error) {
	if err := s.ensureInitialized(); err != nil {
		return Stats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, m := range s.cache {
		total += int64(m.SizeBytes)
	}
	return Stats{
		TotalArtifacts: len(s.cache),
		TotalSizeBytes: total,
		ArtifactsDir:   s.artifactsDir,
	}, nil
}
