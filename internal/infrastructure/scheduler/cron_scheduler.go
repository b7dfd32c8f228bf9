package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/infrastructure/config"
)

// cronTickerInterval is the interval at which the cron scheduler checks for execution
const cronTickerInterval = 1 * time.Minute

// ParseCronSchedule parses a cron expression "minute hour * * *" to extract hour and minute
// Returns defaults (2:00) if parsing fails or expression is empty
func ParseCronSchedule(cronExpr string) (hour, minute int, err error) {
	// Default values
	hour = 2
	minute = 0

	if cronExpr == "" {
		return hour, minute, nil
	}

	parts := strings.Fields(cronExpr)

	if len(parts) < 2 {
		return hour, minute, nil
	}

	// Parse minute
	if parts[0] != "*" {
		if val, parseErr := parseIntOrDefault(parts[0], 0); parseErr == nil {
			minute = val
		}
	}

	// Parse hour
	if parts[1] != "*" {
		if val, parseErr := parseIntOrDefault(parts[1], 2); parseErr == nil {
			hour = val
		}
	}

	// Validate ranges
	if minute < 0 || minute > 59 {
		return 2, 0, fmt.Errorf("minute must be 0-59, got %d", minute)
	}
	if hour < 0 || hour > 23 {
		return 2, 0, fmt.Errorf("hour must be 0-23, got %d", hour)
	}

	return hour, minute, nil
}

// parseIntOrDefault parses an int string or returns default
func parseIntOrDefault(s string, defaultVal int) (int, error) {
	if s == "" || s == "*" {
		return defaultVal, nil
	}
	var val int
	for _, c := range s {
		if c < '0' || c > '9' {
			return defaultVal, ErrInvalidConfig
		}
		val = val*10 + int(c-'0')
	}
	return val, nil
}

// SweepJobRecord represents a record of a scheduled sweep execution
type SweepJobRecord struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TenantID    *uuid.UUID `gorm:"column:tenant_id;type:uuid"`
	SweepKind   string     `gorm:"column:sweep_kind;size:50;not null"`
	Status      string     `gorm:"column:last_run_status;size:20"`
	Error       string     `gorm:"column:last_error;type:text"`
	StartedAt   *time.Time `gorm:"column:last_run_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	NextRunAt   *time.Time `gorm:"column:next_run_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

// TableName returns the table name for GORM
func (SweepJobRecord) TableName() string {
	return "sweep_scheduler_jobs"
}

// SweepJobRepository handles persistence of sweep job records
type SweepJobRepository struct {
	db *gorm.DB
}

// NewSweepJobRepository creates a new SweepJobRepository
func NewSweepJobRepository(db *gorm.DB) *SweepJobRepository {
	return &SweepJobRepository{db: db}
}

// RecordJobStart records the start of a sweep execution
func (r *SweepJobRepository) RecordJobStart(ctx context.Context, tenantID *uuid.UUID, kind SweepKind) (uuid.UUID, error) {
	now := time.Now()
	record := &SweepJobRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		SweepKind: string(kind),
		Status:    string(JobStatusRunning),
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return uuid.Nil, err
	}
	return record.ID, nil
}

// RecordJobComplete records the completion of a sweep
func (r *SweepJobRepository) RecordJobComplete(ctx context.Context, jobID uuid.UUID, success bool, errMsg string) error {
	now := time.Now()
	status := string(JobStatusSuccess)
	if !success {
		status = string(JobStatusFailed)
	}
	return r.db.WithContext(ctx).
		Model(&SweepJobRecord{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"last_run_status": status,
			"last_error":      errMsg,
			"completed_at":    now,
			"updated_at":      now,
		}).Error
}

// GetLastJobStatus gets the last run record for a sweep kind
func (r *SweepJobRepository) GetLastJobStatus(ctx context.Context, tenantID *uuid.UUID, kind SweepKind) (*SweepJobRecord, error) {
	var record SweepJobRecord
	query := r.db.WithContext(ctx).Where("sweep_kind = ?", string(kind))
	if tenantID != nil {
		query = query.Where("tenant_id = ?", *tenantID)
	} else {
		query = query.Where("tenant_id IS NULL")
	}
	if err := query.Order("last_run_at DESC").First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// SweepCronScheduler drives the recurring sweeps: the daily aggregation
// rollup, the daily commitment period close, and the escalation re-check
// on its own shorter interval.
type SweepCronScheduler struct {
	config  config.SchedulerConfig
	jobRepo *SweepJobRepository
	logger  *zap.Logger
	pool    *Scheduler

	aggregationHour   int
	aggregationMinute int
	commitmentHour    int
	commitmentMinute  int

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	lastAggregationRun string // date of the last aggregation trigger
	lastCommitmentRun  string // date of the last commitment trigger
	lastRunAt          *time.Time
	nextRunAt          *time.Time
}

// NewSweepCronScheduler creates the cron scheduler on top of a worker pool
func NewSweepCronScheduler(
	cfg config.SchedulerConfig,
	executor JobExecutor,
	jobRepo *SweepJobRepository,
	logger *zap.Logger,
) (*SweepCronScheduler, error) {
	aggHour, aggMinute, err := ParseCronSchedule(cfg.AggregationSchedule)
	if err != nil {
		return nil, fmt.Errorf("%w: aggregation_schedule: %v", ErrInvalidConfig, err)
	}
	commitHour, commitMinute, err := ParseCronSchedule(cfg.CommitmentSchedule)
	if err != nil {
		return nil, fmt.Errorf("%w: commitment_schedule: %v", ErrInvalidConfig, err)
	}

	pool := NewScheduler(PoolConfig{
		Enabled:           cfg.Enabled,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		JobTimeout:        cfg.JobTimeout,
		RetryAttempts:     cfg.RetryAttempts,
		RetryDelay:        cfg.RetryDelay,
	}, executor, logger)

	return &SweepCronScheduler{
		config:            cfg,
		jobRepo:           jobRepo,
		logger:            logger,
		pool:              pool,
		aggregationHour:   aggHour,
		aggregationMinute: aggMinute,
		commitmentHour:    commitHour,
		commitmentMinute:  commitMinute,
	}, nil
}

// Start starts the cron scheduler
func (s *SweepCronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	// Start the underlying worker pool
	if err := s.pool.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.calculateNextRunTime()

	s.wg.Add(1)
	go s.cronLoop(ctx)

	s.wg.Add(1)
	go s.escalationLoop(ctx)

	s.logger.Info("Sweep cron scheduler started",
		zap.Int("aggregation_hour", s.aggregationHour),
		zap.Int("aggregation_minute", s.aggregationMinute),
		zap.Int("commitment_hour", s.commitmentHour),
		zap.Int("commitment_minute", s.commitmentMinute),
		zap.Duration("escalation_interval", s.config.EscalationInterval),
		zap.Timep("next_run_at", s.nextRunAt),
	)

	return nil
}

// Stop stops the cron scheduler
func (s *SweepCronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if err := s.pool.Stop(ctx); err != nil {
			s.logger.Warn("Error stopping sweep worker pool", zap.Error(err))
		}
		s.logger.Info("Sweep cron scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sweep cron scheduler stop timed out")
		return ctx.Err()
	}
}

// cronLoop checks every minute whether a daily sweep is due
func (s *SweepCronScheduler) cronLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(cronTickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if s.shouldRunAggregation(now) {
				s.triggerSweep(ctx, SweepKindAggregation, now)
				s.calculateNextRunTime()
			}
			if s.shouldRunCommitment(now) {
				// Pool allowance periods close on the same daily boundary
				// as commitment periods.
				s.triggerSweep(ctx, SweepKindRollover, now)
				s.triggerSweep(ctx, SweepKindCommitment, now)
			}
		}
	}
}

// escalationLoop re-checks unacknowledged alerts on a short interval
func (s *SweepCronScheduler) escalationLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.config.EscalationInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.triggerSweep(ctx, SweepKindEscalation, now)
		}
	}
}

// shouldRunAggregation checks whether the aggregation sweep is due
func (s *SweepCronScheduler) shouldRunAggregation(now time.Time) bool {
	if now.Hour() != s.aggregationHour || now.Minute() != s.aggregationMinute {
		return false
	}
	currentDate := now.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAggregationRun == currentDate {
		return false
	}
	s.lastAggregationRun = currentDate
	return true
}

// shouldRunCommitment checks whether the commitment sweep is due
func (s *SweepCronScheduler) shouldRunCommitment(now time.Time) bool {
	if now.Hour() != s.commitmentHour || now.Minute() != s.commitmentMinute {
		return false
	}
	currentDate := now.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCommitmentRun == currentDate {
		return false
	}
	s.lastCommitmentRun = currentDate
	return true
}

// calculateNextRunTime calculates the next aggregation run time
func (s *SweepCronScheduler) calculateNextRunTime() {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.aggregationHour, s.aggregationMinute, 0, 0, now.Location())

	// If we've already passed today's run time, schedule for tomorrow
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}

	s.mu.Lock()
	s.nextRunAt = &next
	s.mu.Unlock()
}

// triggerSweep records and submits one sweep job. The aggregation sweep
// evaluates yesterday's period; the others evaluate the current instant.
func (s *SweepCronScheduler) triggerSweep(ctx context.Context, kind SweepKind, now time.Time) {
	s.mu.Lock()
	s.lastRunAt = &now
	s.mu.Unlock()

	asOf := now
	if kind == SweepKindAggregation {
		asOf = now.AddDate(0, 0, -1)
	}

	var jobID uuid.UUID
	if s.jobRepo != nil {
		var recordErr error
		jobID, recordErr = s.jobRepo.RecordJobStart(ctx, nil, kind)
		if recordErr != nil {
			s.logger.Warn("Failed to record sweep start",
				zap.String("sweep_kind", string(kind)),
				zap.Error(recordErr),
			)
		}
	}

	job := NewJob(nil, kind, asOf, s.config.RetryAttempts)
	if err := s.pool.SubmitJob(job); err != nil {
		s.logger.Error("Failed to submit sweep job",
			zap.String("sweep_kind", string(kind)),
			zap.Error(err),
		)
		if s.jobRepo != nil && jobID != uuid.Nil {
			_ = s.jobRepo.RecordJobComplete(ctx, jobID, false, err.Error())
		}
		return
	}

	s.logger.Debug("Sweep job submitted",
		zap.String("sweep_kind", string(kind)),
		zap.Time("as_of", asOf),
	)
}

// TriggerManualRun triggers a manual run of one sweep kind.
// Note: Uses background context to avoid premature cancellation when HTTP request completes
func (s *SweepCronScheduler) TriggerManualRun(ctx context.Context, kind SweepKind) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.mu.Unlock()

	switch kind {
	case SweepKindAggregation, SweepKindCommitment, SweepKindEscalation, SweepKindRollover:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidSweepKind, kind)
	}

	go s.triggerSweep(context.Background(), kind, time.Now())
	return nil
}

// TriggerTenantAggregation triggers a rollup recompute for a specific
// tenant and reference instant
func (s *SweepCronScheduler) TriggerTenantAggregation(ctx context.Context, tenantID uuid.UUID, asOf time.Time) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.mu.Unlock()

	job := NewJob(&tenantID, SweepKindAggregation, asOf, s.config.RetryAttempts)
	return s.pool.SubmitJob(job)
}

// GetStatus returns the current status of the cron scheduler
func (s *SweepCronScheduler) GetStatus() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"enabled":             s.config.Enabled,
		"is_running":          s.isRunning,
		"aggregation_hour":    s.aggregationHour,
		"aggregation_minute":  s.aggregationMinute,
		"commitment_hour":     s.commitmentHour,
		"commitment_minute":   s.commitmentMinute,
		"escalation_interval": s.config.EscalationInterval.String(),
		"last_run_at":         s.lastRunAt,
		"next_run_at":         s.nextRunAt,
		"sweep_kinds":         AllSweepKinds(),
	}
}

// GetNextRunAt returns when the next aggregation run will occur
func (s *SweepCronScheduler) GetNextRunAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunAt
}

// GetLastRunAt returns when the last sweep was triggered
func (s *SweepCronScheduler) GetLastRunAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunAt
}
