// Package learning is the decision engine's learning store: it persists
// outcomes of past autonomous actions and turns them into the
// ConfidenceScore the decision engine weighs against a goal's risk tier.
package learning

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/persistence/models"
	apperrors "github.com/ag3nt-run/ag3nt/pkg/errors"
)

// ActionRecord is one observed outcome of an autonomous action, the unit
// the store scores goals' confidence from.
type ActionRecord struct {
	ActionID     string
	ActionType   string
	GoalID       string
	Context      string
	Success      bool
	DurationMs   int64
	ErrorMessage string
	CreatedAt    time.Time
}

// failurePenalty is the score contribution of a failed action, applied
// instead of zero so a goal's confidence drops below its raw success_rate
// whenever failures appear in its history — a single run of failures
// should cost more than it costs the success_rate average.
const failurePenalty = -0.5

// recencyHalfLife controls how fast older action records lose influence
// over the confidence score; an action this old counts for half as much
// as a fresh one.
const recencyHalfLife = 48 * time.Hour

type cacheEntry struct {
	score   entity.ConfidenceScore
	cachedAt time.Time
}

// Store is a gorm-backed learning store. It satisfies
// decision.ConfidenceProvider without importing the decision package,
// keeping the dependency direction the other way around (decision depends
// on an interface; this package doesn't need to know about decision at
// all).
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	cacheTTL time.Duration
	cacheMu  sync.Mutex
	cache    map[string]cacheEntry
}

// NewStore builds a Store backed by db. AutoMigrate of the underlying
// table is the caller's responsibility (see persistence.NewDBConnection).
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:       db,
		logger:   logger.With(zap.String("component", "learning-store")),
		cacheTTL: 5 * time.Minute,
		cache:    make(map[string]cacheEntry),
	}
}

// RecordAction persists one action outcome and invalidates any cached
// confidence score for its (action_type, goal_id) pair.
func (s *Store) RecordAction(ctx context.Context, actionType, goalID, actionContext string, success bool, durationMs int64, errorMessage string) (*ActionRecord, error) {
	record := &ActionRecord{
		ActionID:     uuid.New().String(),
		ActionType:   actionType,
		GoalID:       goalID,
		Context:      actionContext,
		Success:      success,
		DurationMs:   durationMs,
		ErrorMessage: errorMessage,
		CreatedAt:    time.Now(),
	}

	model := models.ActionRecordModel{
		ActionID:     record.ActionID,
		ActionType:   record.ActionType,
		GoalID:       record.GoalID,
		Context:      record.Context,
		Success:      record.Success,
		DurationMs:   record.DurationMs,
		ErrorMessage: record.ErrorMessage,
		CreatedAt:    record.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, apperrors.NewStorageError("record action outcome", err)
	}

	s.invalidate(cacheKey(actionType, goalID))
	return record, nil
}

// GetConfidence implements decision.ConfidenceProvider: it scores the
// goal's own history of past actions (by goal ID, or by its action type
// goal.Action.Tool when the goal has no ID), weighted toward recent outcomes and penalized for failures, and caches
// the result for cacheTTL.
func (s *Store) GetConfidence(ctx context.Context, goal *entity.Goal, event *entity.Event) (entity.ConfidenceScore, error) {
	key := cacheKey(goal.Action.Tool, goal.ID)

	s.cacheMu.Lock()
	if entry, ok := s.cache[key]; ok && time.Since(entry.cachedAt) < s.cacheTTL {
		s.cacheMu.Unlock()
		return entry.score, nil
	}
	s.cacheMu.Unlock()

	var records []models.ActionRecordModel
	query := s.db.WithContext(ctx).Order("created_at desc")
	if goal.ID != "" {
		query = query.Where("goal_id = ?", goal.ID)
	} else if goal.Action.Tool != "" {
		query = query.Where("action_type = ?", goal.Action.Tool)
	}
	if err := query.Find(&records).Error; err != nil {
		return entity.ConfidenceScore{}, apperrors.NewStorageError("load action history", err)
	}

	score := scoreRecords(records)

	s.cacheMu.Lock()
	s.cache[key] = cacheEntry{score: score, cachedAt: time.Now()}
	s.cacheMu.Unlock()

	return score, nil
}

func scoreRecords(records []models.ActionRecordModel) entity.ConfidenceScore {
	count := len(records)
	if count == 0 {
		return entity.ConfidenceScore{}
	}

	now := time.Now()
	var weightedSum, weightTotal, successes float64
	var durationSum int64
	lambda := math.Ln2 / recencyHalfLife.Seconds()

	for _, r := range records {
		age := now.Sub(r.CreatedAt).Seconds()
		if age < 0 {
			age = 0
		}
		weight := math.Exp(-lambda * age)
		outcome := failurePenalty
		if r.Success {
			outcome = 1.0
			successes++
		}
		weightedSum += weight * outcome
		weightTotal += weight
		durationSum += r.DurationMs
	}

	score := 0.0
	if weightTotal > 0 {
		score = weightedSum / weightTotal
	}
	score = math.Max(0, math.Min(1, score))

	return entity.ConfidenceScore{
		Score:        score,
		SampleCount:  count,
		SuccessRate:  successes / float64(count),
		AvgDuration:  time.Duration(durationSum/int64(count)) * time.Millisecond,
	}
}

// ClearCache drops every cached confidence score.
func (s *Store) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache = make(map[string]cacheEntry)
}

func (s *Store) invalidate(key string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.cache, key)
}

func cacheKey(actionType, goalID string) string {
	return fmt.Sprintf("%s::%s", actionType, goalID)
}
