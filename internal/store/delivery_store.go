package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Priya8975/webhook-relay/internal/domain"
)

// RecordDeliveryAttempt appends one attempt row.
func (s *PostgresStore) RecordDeliveryAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	reqHeaders, err := json.Marshal(a.RequestHeaders)
	if err != nil {
		return fmt.Errorf("encoding request headers: %w", err)
	}

	var respHeaders *string
	if a.ResponseHeaders != nil {
		b, err := json.Marshal(a.ResponseHeaders)
		if err != nil {
			return fmt.Errorf("encoding response headers: %w", err)
		}
		v := string(b)
		respHeaders = &v
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO webhook_logs (organization_id, webhook_id, event, url, payload, request_headers,
			response_status, response_body, response_headers, duration_ms, success, error_message,
			attempt_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, a.OrganizationID, a.SubscriptionID, string(a.Event), a.URL, string(a.Payload), string(reqHeaders),
		a.ResponseStatus, a.ResponseBody, respHeaders, a.DurationMs, a.Success, a.ErrorMessage,
		a.AttemptNumber, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

// ListDeliveryAttempts returns the newest attempts for one subscription.
func (s *PostgresStore) ListDeliveryAttempts(ctx context.Context, orgID, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	if !validID(subscriptionID) {
		return []domain.DeliveryAttempt{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, webhook_id, event, url, payload, request_headers,
			response_status, response_body, response_headers, duration_ms, success, error_message,
			attempt_number, created_at
		FROM webhook_logs
		WHERE webhook_id = $1 AND organization_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, subscriptionID, orgID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying delivery attempts: %w", err)
	}
	defer rows.Close()

	attempts := []domain.DeliveryAttempt{}
	for rows.Next() {
		var (
			a           domain.DeliveryAttempt
			event       string
			payload     []byte
			reqHeaders  []byte
			respHeaders []byte
		)
		err := rows.Scan(
			&a.ID, &a.OrganizationID, &a.SubscriptionID, &event, &a.URL, &payload, &reqHeaders,
			&a.ResponseStatus, &a.ResponseBody, &respHeaders, &a.DurationMs, &a.Success,
			&a.ErrorMessage, &a.AttemptNumber, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		a.Event = domain.EventKind(event)
		a.Payload = json.RawMessage(payload)
		if len(reqHeaders) > 0 {
			if err := json.Unmarshal(reqHeaders, &a.RequestHeaders); err != nil {
				return nil, fmt.Errorf("decoding request headers: %w", err)
			}
		}
		if len(respHeaders) > 0 {
			if err := json.Unmarshal(respHeaders, &a.ResponseHeaders); err != nil {
				return nil, fmt.Errorf("decoding response headers: %w", err)
			}
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery attempts: %w", err)
	}
	return attempts, nil
}
