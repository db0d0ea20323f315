package database

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/parakeet-hq/parakeet/internal/apierror"
	"github.com/parakeet-hq/parakeet/model"
)

func (d Datasource) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO parakeet.campaigns (campaign_id, name, strategy, status, tags, kind, template, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.CampaignID, c.Name, c.Strategy, c.Status, pq.Array(c.Tags), c.Kind, c.Template, c.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Campaign with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create campaign", err)
	}
	return nil
}

func scanCampaign(row interface{ Scan(...interface{}) error }) (*model.Campaign, error) {
	c := model.Campaign{}
	var tags pq.StringArray
	var completedAt sql.NullTime

	err := row.Scan(&c.CampaignID, &c.Name, &c.Strategy, &c.Status, &tags, &c.Kind,
		&c.Template, &c.Sent, &c.Failed, &c.Skipped, &c.Deferred, &c.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	c.Tags = tags
	if completedAt.Valid {
		c.CompletedAt = completedAt.Time
	}
	return &c, nil
}

const campaignColumns = `
	campaign_id, name, strategy, status, tags, kind, template, sent, failed, skipped, deferred, created_at, completed_at`

func (d Datasource) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM parakeet.campaigns
		WHERE campaign_id = $1
	`, id)

	c, err := scanCampaign(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Campaign not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve campaign", err)
	}
	return c, nil
}

func (d Datasource) GetAllCampaigns(ctx context.Context, limit, offset int) ([]*model.Campaign, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM parakeet.campaigns
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve campaigns", err)
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan campaign row", err)
		}
		campaigns = append(campaigns, c)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating campaign rows", err)
	}
	return campaigns, nil
}

func (d Datasource) UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	completed := status == model.CampaignCompleted || status == model.CampaignAborted
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE parakeet.campaigns
		SET status = $2, completed_at = CASE WHEN $3 THEN NOW() ELSE completed_at END
		WHERE campaign_id = $1
	`, id, status, completed)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update campaign status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read status update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Campaign not found", id)
	}
	return nil
}

func (d Datasource) UpdateCampaignCounters(ctx context.Context, id string, summary model.Summary) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE parakeet.campaigns
		SET sent = $2, failed = $3, skipped = $4, deferred = $5
		WHERE campaign_id = $1
	`, id, summary.Sent, summary.Failed, summary.Skipped, summary.Deferred)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update campaign counters", err)
	}
	return nil
}
