package cron

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sufrahq/sufra-api/model"
	"github.com/sufrahq/sufra-api/services"
	"gorm.io/gorm"
)

// CronManager manages all scheduled cron jobs. It owns the expiry sweep: the
// conversation service never deletes expired sessions on its own, it only
// exposes the cleanup operation the scheduler invokes.
type CronManager struct {
	cron          *cron.Cron
	db            *gorm.DB
	conversations *services.ConversationService
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, conversations *services.ConversationService) *CronManager {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:          c,
		db:            db,
		conversations: conversations,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	// Register all jobs
	if err := m.registerJobs(); err != nil {
		return err
	}

	// Start the cron scheduler
	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// 1. Every hour: Sweep expired conversation sessions
	_, err := m.cron.AddFunc("0 0 * * * *", func() {
		m.logJobStart("cleanup_expired_sessions")
		m.CleanupExpiredSessions()
	})
	if err != nil {
		return err
	}

	// 2. Daily at 3:30 AM: Cleanup old audit data
	_, err = m.cron.AddFunc("0 30 3 * * *", func() {
		m.logJobStart("cleanup_old_data")
		m.CleanupOldData()
	})
	if err != nil {
		return err
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

// logJobStart logs the start of a cron job
func (m *CronManager) logJobStart(jobName string) {
	log.Printf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))

	// Log to database
	cronLog := model.CronJobLog{
		JobName:   jobName,
		Status:    "running",
		StartedAt: time.Now(),
		Metadata:  "{}",
	}
	m.db.Create(&cronLog)
}

// logJobComplete logs successful completion of a cron job
func (m *CronManager) logJobComplete(jobName string, message string) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)

	// Update database log
	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "completed",
			"completed_at": time.Now(),
			"message":      message,
		})
}

// logJobError logs a cron job error
func (m *CronManager) logJobError(jobName string, err error) {
	log.Printf("[CRON] Error in job: %s - %v", jobName, err)

	// Update database log
	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "failed",
			"completed_at": time.Now(),
			"error_msg":    err.Error(),
		})
}
