package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Priya8975/webhook-relay/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id, organization_id, name, url, events, secret, is_active, headers,
	retry_count, timeout_ms, failure_count, last_triggered_at, last_success_at, last_failure_at,
	created_at, updated_at`

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	headers, err := marshalHeaders(sub.Headers)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhooks (organization_id, name, url, events, secret, is_active, headers, retry_count, timeout_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+subscriptionColumns,
		sub.OrganizationID, sub.Name, sub.URL, eventStrings(sub.Events), sub.Secret,
		sub.IsActive, headers, sub.RetryCount, sub.TimeoutMs,
	)

	created, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, orgID, id string) (*domain.Subscription, error) {
	if !validID(id) {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhooks WHERE id = $1 AND organization_id = $2
	`, id, orgID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, orgID string) ([]domain.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhooks WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
}

func (s *PostgresStore) ListActiveSubscriptions(ctx context.Context, orgID string) ([]domain.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhooks WHERE organization_id = $1 AND is_active = true
		ORDER BY created_at
	`, orgID)
}

func (s *PostgresStore) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, orgID, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	setClauses := []string{}
	args := []any{}
	argIdx := 1

	set := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if req.Name != nil {
		set("name", *req.Name)
	}
	if req.URL != nil {
		set("url", *req.URL)
	}
	if req.Events != nil {
		set("events", eventStrings(*req.Events))
	}
	if req.Secret != nil {
		set("secret", *req.Secret)
	}
	if req.IsActive != nil {
		set("is_active", *req.IsActive)
	}
	if req.Headers != nil {
		headers, err := marshalHeaders(*req.Headers)
		if err != nil {
			return nil, err
		}
		set("headers", headers)
	}
	if req.RetryCount != nil {
		set("retry_count", *req.RetryCount)
	}
	if req.TimeoutMs != nil {
		set("timeout_ms", *req.TimeoutMs)
	}

	if len(setClauses) == 0 {
		sub, err := s.GetSubscription(ctx, orgID, id)
		if err == nil && sub == nil {
			return nil, ErrNotFound
		}
		return sub, err
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE webhooks SET %s
		WHERE id = $%d AND organization_id = $%d
		RETURNING %s
	`, strings.Join(setClauses, ", "), argIdx, argIdx+1, subscriptionColumns)
	args = append(args, id, orgID)

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, orgID, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	result, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAttemptSuccess stamps a successful attempt and resets the
// consecutive failure counter.
func (s *PostgresStore) RecordAttemptSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhooks
		SET last_triggered_at = $2, last_success_at = $2, failure_count = 0
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("recording attempt success: %w", err)
	}
	return nil
}

// RecordAttemptFailure stamps a failed attempt. The failure counter is left
// alone; it only moves when a whole chain fails.
func (s *PostgresStore) RecordAttemptFailure(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhooks
		SET last_triggered_at = $2, last_failure_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("recording attempt failure: %w", err)
	}
	return nil
}

// RecordChainFailure increments failure_count and deactivates the
// subscription once the new count reaches disableThreshold, in one statement.
func (s *PostgresStore) RecordChainFailure(ctx context.Context, id string, disableThreshold int) (ChainFailure, error) {
	var (
		result    ChainFailure
		isActive  bool
		wasActive bool
	)
	err := s.pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT is_active FROM webhooks WHERE id = $1 FOR UPDATE
		)
		UPDATE webhooks
		SET failure_count = failure_count + 1,
			is_active = CASE WHEN failure_count + 1 >= $2 THEN false ELSE is_active END
		WHERE id = $1
		RETURNING failure_count, is_active, (SELECT is_active FROM prev)
	`, id, disableThreshold).Scan(&result.FailureCount, &isActive, &wasActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChainFailure{}, ErrNotFound
		}
		return ChainFailure{}, fmt.Errorf("recording chain failure: %w", err)
	}
	result.Disabled = wasActive && !isActive
	return result, nil
}

// validID guards uuid columns so malformed ids read as missing rows rather
// than query errors.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub     domain.Subscription
		events  []string
		headers []byte
	)
	err := row.Scan(
		&sub.ID, &sub.OrganizationID, &sub.Name, &sub.URL, &events, &sub.Secret,
		&sub.IsActive, &headers, &sub.RetryCount, &sub.TimeoutMs, &sub.FailureCount,
		&sub.LastTriggeredAt, &sub.LastSuccessAt, &sub.LastFailureAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Events = make([]domain.EventKind, 0, len(events))
	for _, e := range events {
		sub.Events = append(sub.Events, domain.EventKind(e))
	}

	sub.Headers = map[string]string{}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &sub.Headers); err != nil {
			return nil, fmt.Errorf("decoding headers: %w", err)
		}
	}
	return &sub, nil
}

func eventStrings(events []domain.EventKind) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, string(e))
	}
	return out
}

func marshalHeaders(headers map[string]string) (string, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("encoding headers: %w", err)
	}
	return string(b), nil
}
