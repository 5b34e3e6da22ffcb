package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/riskcore/riskcore/internal/common/database"
	commonerrors "github.com/riskcore/riskcore/internal/common/errors"
	"github.com/riskcore/riskcore/internal/common/logger"
)

const (
	maxHistoryLimit     = 500
	defaultHistoryLimit = 50
	statsCacheTTL       = 60 * time.Second
)

// HistoryFilter selects assessments for the history endpoint.
type HistoryFilter struct {
	UserID     string
	StartDate  *time.Time
	EndDate    *time.Time
	RiskLevel  string
	ActionType string
	Page       int
	Limit      int
}

// HistoryPage is one page of assessment history plus pagination totals.
type HistoryPage struct {
	Assessments []Assessment `json:"assessments"`
	Total       int          `json:"total"`
	Page        int          `json:"page"`
	Limit       int          `json:"limit"`
	TotalPages  int          `json:"total_pages"`
}

// StatsReport aggregates assessments over a window.
type StatsReport struct {
	StartDate        time.Time      `json:"start_date"`
	EndDate          time.Time      `json:"end_date"`
	Days             int            `json:"days"`
	UserID           string         `json:"user_id,omitempty"`
	TotalAssessments int            `json:"total_assessments"`
	RiskDistribution map[string]int `json:"risk_distribution"`
	AverageScore     float64        `json:"average_confidence_score"`
	MinScore         int            `json:"min_confidence_score"`
	MaxScore         int            `json:"max_confidence_score"`
	MostCommonAction string         `json:"most_common_action,omitempty"`
}

// AssessmentStore persists and queries assessment records. Assessments are
// write-once audit records; there is no update path.
type AssessmentStore struct {
	db     *database.PostgresDB
	redis  *database.RedisClient
	logger *zap.Logger
	perf   *logger.PerformanceLogger
}

// NewAssessmentStore creates a new assessment store. redis may be nil,
// which disables stats caching.
func NewAssessmentStore(db *database.PostgresDB, redis *database.RedisClient, log *zap.Logger) *AssessmentStore {
	if log == nil {
		log = zap.NewNop()
	}
	componentLog := log.With(zap.String("component", "assessment_store"))
	return &AssessmentStore{
		db:     db,
		redis:  redis,
		logger: componentLog,
		perf:   logger.NewPerformanceLogger(componentLog),
	}
}

// InitSchema creates the assessment table and indexes if they do not exist.
func (s *AssessmentStore) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS risk_assessments (
			id BIGSERIAL PRIMARY KEY,
			request_id VARCHAR(64) NOT NULL UNIQUE,
			user_id VARCHAR(255) NOT NULL,
			ip_address VARCHAR(45) NOT NULL,
			user_agent TEXT,
			action_type VARCHAR(32),
			transaction_amount DOUBLE PRECISION,
			confidence_score INTEGER NOT NULL,
			risk_level VARCHAR(10) NOT NULL,
			risk_factors JSONB NOT NULL,
			recommendations JSONB NOT NULL,
			session_data JSONB,
			provider_response JSONB,
			processing_time_ms BIGINT NOT NULL,
			api_version VARCHAR(16),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_risk_assessments_user_id ON risk_assessments(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_assessments_created_at ON risk_assessments(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_assessments_risk_level ON risk_assessments(risk_level)`,
	}

	for _, query := range queries {
		if _, err := s.db.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// Insert stores one completed assessment.
func (s *AssessmentStore) Insert(ctx context.Context, assessment *Assessment) error {
	factorsJSON, err := json.Marshal(assessment.Factors)
	if err != nil {
		return commonerrors.Wrap(err, commonerrors.ErrInternal, "marshal risk factors", 500)
	}
	recsJSON, err := json.Marshal(assessment.Recommendations)
	if err != nil {
		return commonerrors.Wrap(err, commonerrors.ErrInternal, "marshal recommendations", 500)
	}
	sessionJSON, err := marshalNullable(assessment.SessionSnapshot)
	if err != nil {
		return commonerrors.Wrap(err, commonerrors.ErrInternal, "marshal session data", 500)
	}
	providerJSON, err := marshalNullable(assessment.ProviderResponse)
	if err != nil {
		return commonerrors.Wrap(err, commonerrors.ErrInternal, "marshal provider response", 500)
	}

	query := `
		INSERT INTO risk_assessments (
			request_id, user_id, ip_address, user_agent, action_type,
			transaction_amount, confidence_score, risk_level, risk_factors,
			recommendations, session_data, provider_response,
			processing_time_ms, api_version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = s.db.Pool.Exec(ctx, query,
		assessment.RequestID, assessment.UserID, assessment.IPAddress,
		assessment.UserAgent, nullableString(assessment.ActionType),
		assessment.TransactionAmount, assessment.ConfidenceScore,
		string(assessment.RiskLevel), factorsJSON, recsJSON,
		sessionJSON, providerJSON, assessment.ProcessingTimeMS,
		assessment.APIVersion, assessment.CreatedAt,
	)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return commonerrors.DuplicateKey(assessment.RequestID)
		}
		s.logger.Error("Failed to insert assessment",
			zap.String("request_id", assessment.RequestID),
			zap.Error(err))
		return commonerrors.DatabaseError("insert risk_assessment", err)
	}

	return nil
}

// History returns a filtered, paginated page of assessments, newest first.
func (s *AssessmentStore) History(ctx context.Context, filter HistoryFilter) (*HistoryPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if filter.UserID != "" {
		where += fmt.Sprintf(" AND user_id = $%d", argPos)
		args = append(args, filter.UserID)
		argPos++
	}
	if filter.StartDate != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *filter.StartDate)
		argPos++
	}
	if filter.EndDate != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, *filter.EndDate)
		argPos++
	}
	if filter.RiskLevel != "" {
		where += fmt.Sprintf(" AND risk_level = $%d", argPos)
		args = append(args, filter.RiskLevel)
		argPos++
	}
	if filter.ActionType != "" {
		where += fmt.Sprintf(" AND action_type = $%d", argPos)
		args = append(args, filter.ActionType)
		argPos++
	}

	var total int
	if err := s.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM risk_assessments"+where, args...).Scan(&total); err != nil {
		return nil, commonerrors.DatabaseError("count risk_assessments", err)
	}

	query := `
		SELECT request_id, user_id, ip_address, user_agent, action_type,
		       transaction_amount, confidence_score, risk_level, risk_factors,
		       recommendations, processing_time_ms, api_version, created_at
		FROM risk_assessments` + where + fmt.Sprintf(`
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, argPos, argPos+1)
	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, commonerrors.DatabaseError("query risk_assessments", err)
	}
	defer rows.Close()

	assessments := []Assessment{}
	for rows.Next() {
		var a Assessment
		var userAgent, actionType, apiVersion *string
		var factorsJSON, recsJSON []byte

		if err := rows.Scan(
			&a.RequestID, &a.UserID, &a.IPAddress, &userAgent, &actionType,
			&a.TransactionAmount, &a.ConfidenceScore, &a.RiskLevel,
			&factorsJSON, &recsJSON, &a.ProcessingTimeMS, &apiVersion, &a.CreatedAt,
		); err != nil {
			return nil, commonerrors.DatabaseError("scan risk_assessment", err)
		}

		if userAgent != nil {
			a.UserAgent = *userAgent
		}
		if actionType != nil {
			a.ActionType = *actionType
		}
		if apiVersion != nil {
			a.APIVersion = *apiVersion
		}
		if err := json.Unmarshal(factorsJSON, &a.Factors); err != nil {
			return nil, commonerrors.Wrap(err, commonerrors.ErrInternal, "unmarshal risk factors", 500)
		}
		if err := json.Unmarshal(recsJSON, &a.Recommendations); err != nil {
			return nil, commonerrors.Wrap(err, commonerrors.ErrInternal, "unmarshal recommendations", 500)
		}

		assessments = append(assessments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.DatabaseError("iterate risk_assessments", err)
	}

	totalPages := (total + filter.Limit - 1) / filter.Limit
	return &HistoryPage{
		Assessments: assessments,
		Total:       total,
		Page:        filter.Page,
		Limit:       filter.Limit,
		TotalPages:  totalPages,
	}, nil
}

// GetByRequestID fetches a single assessment.
func (s *AssessmentStore) GetByRequestID(ctx context.Context, requestID string) (*Assessment, error) {
	query := `
		SELECT request_id, user_id, ip_address, user_agent, action_type,
		       transaction_amount, confidence_score, risk_level, risk_factors,
		       recommendations, processing_time_ms, api_version, created_at
		FROM risk_assessments
		WHERE request_id = $1
	`

	var a Assessment
	var userAgent, actionType, apiVersion *string
	var factorsJSON, recsJSON []byte

	err := s.db.Pool.QueryRow(ctx, query, requestID).Scan(
		&a.RequestID, &a.UserID, &a.IPAddress, &userAgent, &actionType,
		&a.TransactionAmount, &a.ConfidenceScore, &a.RiskLevel,
		&factorsJSON, &recsJSON, &a.ProcessingTimeMS, &apiVersion, &a.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, commonerrors.AssessmentNotFound(requestID)
	}
	if err != nil {
		return nil, commonerrors.DatabaseError("query risk_assessment", err)
	}

	if userAgent != nil {
		a.UserAgent = *userAgent
	}
	if actionType != nil {
		a.ActionType = *actionType
	}
	if apiVersion != nil {
		a.APIVersion = *apiVersion
	}
	if err := json.Unmarshal(factorsJSON, &a.Factors); err != nil {
		return nil, commonerrors.Wrap(err, commonerrors.ErrInternal, "unmarshal risk factors", 500)
	}
	if err := json.Unmarshal(recsJSON, &a.Recommendations); err != nil {
		return nil, commonerrors.Wrap(err, commonerrors.ErrInternal, "unmarshal recommendations", 500)
	}

	return &a, nil
}

// Stats aggregates assessments over the trailing window. Results are
// cached in Redis for a minute since dashboards poll this endpoint.
func (s *AssessmentStore) Stats(ctx context.Context, userID string, days int) (*StatsReport, error) {
	if days < 1 {
		days = 7
	}
	if days > 365 {
		days = 365
	}

	cacheKey := fmt.Sprintf("assessment_stats:%s:%d", userID, days)
	if cached := s.statsCacheGet(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	where := " WHERE created_at >= $1 AND created_at <= $2"
	args := []interface{}{start, end}
	if userID != "" {
		where += " AND user_id = $3"
		args = append(args, userID)
	}

	query := `
		SELECT risk_level, action_type, confidence_score
		FROM risk_assessments` + where

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, commonerrors.DatabaseError("query assessment stats", err)
	}
	defer rows.Close()

	report := &StatsReport{
		StartDate:        start,
		EndDate:          end,
		Days:             days,
		UserID:           userID,
		RiskDistribution: map[string]int{"ALLOW": 0, "REVIEW": 0, "DENY": 0},
	}

	actionCounts := map[string]int{}
	scoreSum := 0
	for rows.Next() {
		var level string
		var actionType *string
		var score int
		if err := rows.Scan(&level, &actionType, &score); err != nil {
			return nil, commonerrors.DatabaseError("scan assessment stats", err)
		}

		report.TotalAssessments++
		report.RiskDistribution[level]++
		scoreSum += score
		if report.TotalAssessments == 1 || score < report.MinScore {
			report.MinScore = score
		}
		if score > report.MaxScore {
			report.MaxScore = score
		}
		if actionType != nil {
			actionCounts[*actionType]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.DatabaseError("iterate assessment stats", err)
	}

	if report.TotalAssessments > 0 {
		report.AverageScore = float64(scoreSum) / float64(report.TotalAssessments)
		best := 0
		for action, count := range actionCounts {
			if count > best {
				best = count
				report.MostCommonAction = action
			}
		}
	}

	s.statsCacheSet(ctx, cacheKey, report)
	return report, nil
}

func (s *AssessmentStore) statsCacheGet(ctx context.Context, key string) *StatsReport {
	if s.redis == nil {
		return nil
	}

	start := time.Now()
	raw, err := s.redis.Client.Get(ctx, key).Result()
	s.perf.LogCacheOperation("get", key, err == nil, time.Since(start))
	if err != nil {
		return nil
	}

	var report StatsReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil
	}
	return &report
}

func (s *AssessmentStore) statsCacheSet(ctx context.Context, key string, report *StatsReport) {
	if s.redis == nil {
		return
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.redis.Client.Set(ctx, key, raw, statsCacheTTL).Err(); err != nil {
		s.logger.Debug("Failed to cache stats report", zap.Error(err))
	}
}
