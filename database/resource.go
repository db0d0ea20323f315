package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/parakeet-hq/parakeet/internal/apierror"
	"github.com/parakeet-hq/parakeet/model"
)

func (d Datasource) CreateResource(ctx context.Context, res *model.Resource) error {
	metaDataJSON, err := json.Marshal(res.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO parakeet.resources
			(resource_id, kind, tags, state, health_score, error_streak, hourly_count, daily_count,
			 hourly_cap, daily_cap, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, res.ResourceID, res.Kind, pq.Array(res.Tags), res.State, res.HealthScore, res.ErrorStreak,
		res.HourlyCount, res.DailyCount, res.HourlyCap, res.DailyCap, res.CreatedAt, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Resource with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create resource", err)
	}
	return nil
}

const resourceColumns = `
	resource_id, kind, tags, state, health_score, error_streak, hourly_count, daily_count,
	hourly_cap, daily_cap, last_used_at, last_error_at, suspended_at, created_at, meta_data`

func scanResource(row interface{ Scan(...interface{}) error }) (*model.Resource, error) {
	res := model.Resource{}
	var tags pq.StringArray
	var lastUsedAt, lastErrorAt, suspendedAt sql.NullTime
	var metaDataJSON []byte

	err := row.Scan(&res.ResourceID, &res.Kind, &tags, &res.State, &res.HealthScore, &res.ErrorStreak,
		&res.HourlyCount, &res.DailyCount, &res.HourlyCap, &res.DailyCap,
		&lastUsedAt, &lastErrorAt, &suspendedAt, &res.CreatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	res.Tags = tags
	if lastUsedAt.Valid {
		res.LastUsedAt = lastUsedAt.Time
	}
	if lastErrorAt.Valid {
		res.LastErrorAt = lastErrorAt.Time
	}
	if suspendedAt.Valid {
		res.SuspendedAt = suspendedAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &res.MetaData); err != nil {
			return nil, err
		}
	}
	return &res, nil
}

func (d Datasource) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+resourceColumns+`
		FROM parakeet.resources
		WHERE resource_id = $1
	`, id)

	res, err := scanResource(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve resource", err)
	}
	return res, nil
}

func (d Datasource) queryResources(ctx context.Context, query string, args ...interface{}) ([]*model.Resource, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve resources", err)
	}
	defer rows.Close()

	resources := []*model.Resource{}
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan resource row", err)
		}
		resources = append(resources, res)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating resource rows", err)
	}
	return resources, nil
}

func (d Datasource) GetAllResources(ctx context.Context) ([]*model.Resource, error) {
	return d.queryResources(ctx, `
		SELECT `+resourceColumns+`
		FROM parakeet.resources
		ORDER BY created_at
	`)
}

func (d Datasource) GetResourcesByState(ctx context.Context, state model.ResourceState) ([]*model.Resource, error) {
	return d.queryResources(ctx, `
		SELECT `+resourceColumns+`
		FROM parakeet.resources
		WHERE state = $1
		ORDER BY created_at
	`, state)
}

// UpdateResourceOutcome persists the mutable outcome fields in one statement.
// The pool serializes writers per resource, so no optimistic locking needed.
func (d Datasource) UpdateResourceOutcome(ctx context.Context, res *model.Resource) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE parakeet.resources
		SET state = $2, health_score = $3, error_streak = $4, hourly_count = $5, daily_count = $6,
		    last_used_at = $7, last_error_at = NULLIF($8, '0001-01-01T00:00:00Z'::timestamptz),
		    suspended_at = NULLIF($9, '0001-01-01T00:00:00Z'::timestamptz)
		WHERE resource_id = $1
	`, res.ResourceID, res.State, res.HealthScore, res.ErrorStreak, res.HourlyCount, res.DailyCount,
		res.LastUsedAt, res.LastErrorAt, res.SuspendedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update resource outcome", err)
	}
	return nil
}

func (d Datasource) UpdateResourceState(ctx context.Context, id string, state model.ResourceState) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE parakeet.resources SET state = $2 WHERE resource_id = $1
	`, id, state)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update resource state", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read state update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", id)
	}
	return nil
}

// ResetHourlyCounters is driven by the scheduled calendar tick.
func (d Datasource) ResetHourlyCounters(ctx context.Context) error {
	_, err := d.Conn.ExecContext(ctx, `UPDATE parakeet.resources SET hourly_count = 0`)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset hourly counters", err)
	}
	return nil
}

func (d Datasource) ResetDailyCounters(ctx context.Context) error {
	_, err := d.Conn.ExecContext(ctx, `UPDATE parakeet.resources SET hourly_count = 0, daily_count = 0`)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset daily counters", err)
	}
	return nil
}
