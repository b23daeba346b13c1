package cron

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sufrahq/sufra-api/model"
)

// CleanupExpiredSessions deletes every conversation session whose fixed
// 24-hour lifetime has passed. Runs hourly. Expiry is not sliding: a session
// still receiving messages is removed once its deadline passes, and the next
// message from that customer starts a fresh conversation.
func (m *CronManager) CleanupExpiredSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	jobName := "cleanup_expired_sessions"

	deleted, err := m.conversations.CleanupExpiredSessions(ctx)
	if err != nil {
		m.logJobError(jobName, fmt.Errorf("failed to sweep expired sessions: %w", err))
		return
	}

	m.logJobComplete(jobName, fmt.Sprintf("Deleted %d expired conversation sessions", deleted))
}

// CleanupOldData removes old audit data to keep the database clean
// Runs daily at 3:30 AM
func (m *CronManager) CleanupOldData() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	jobName := "cleanup_old_data"

	totalCleaned := 0

	// 1. Clean up old cron job logs (keep only last 90 days)
	cutoffLogs := time.Now().Add(-90 * 24 * time.Hour)
	result := m.db.WithContext(ctx).
		Where("created_at < ?", cutoffLogs).
		Delete(&model.CronJobLog{})
	if result.Error != nil {
		log.Printf("[CRON] Failed to clean cron logs: %v", result.Error)
	} else {
		log.Printf("[CRON] Cleaned %d old cron logs", result.RowsAffected)
		totalCleaned += int(result.RowsAffected)
	}

	// 2. Clean up cancelled orders that never left pending (older than 30 days)
	cutoffOrders := time.Now().Add(-30 * 24 * time.Hour)
	result = m.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.OrderStatusCancelled, cutoffOrders).
		Delete(&model.Order{})
	if result.Error != nil {
		log.Printf("[CRON] Failed to clean cancelled orders: %v", result.Error)
	} else {
		log.Printf("[CRON] Cleaned %d cancelled orders", result.RowsAffected)
		totalCleaned += int(result.RowsAffected)
	}

	m.logJobComplete(jobName, fmt.Sprintf("Cleaned up %d total records", totalCleaned))
}
