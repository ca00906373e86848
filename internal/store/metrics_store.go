package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/webhook-relay/internal/domain"
)

// GetDeliveryStats returns aggregated delivery statistics for one organization.
func (s *PostgresStore) GetDeliveryStats(ctx context.Context, orgID string) (*domain.DeliveryStats, error) {
	var m domain.DeliveryStats

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE success) AS success,
			COUNT(*) FILTER (WHERE NOT success) AS failed,
			COALESCE(AVG(duration_ms), 0) AS avg_duration_ms
		FROM webhook_logs
		WHERE organization_id = $1
	`, orgID).Scan(&m.TotalAttempts, &m.SuccessCount, &m.FailedCount, &m.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("querying delivery stats: %w", err)
	}

	if m.TotalAttempts > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalAttempts) * 100
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active)
		FROM webhooks WHERE organization_id = $1
	`, orgID).Scan(&m.TotalSubscriptions, &m.ActiveSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("querying subscription counts: %w", err)
	}

	return &m, nil
}
