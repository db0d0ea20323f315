package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/parakeet-hq/parakeet/internal/apierror"
	"github.com/parakeet-hq/parakeet/model"
)

// UpsertConversation writes the conversation record keyed by target. The
// resource binding is part of the row; it never changes after first insert,
// which keeps the dialogue on one identity.
func (d Datasource) UpsertConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO parakeet.conversations
			(target_id, resource_id, stage, priority, last_outbound_at, last_inbound_at, reply_latency_sec, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '0001-01-01T00:00:00Z'::timestamptz), NULLIF($6, '0001-01-01T00:00:00Z'::timestamptz), $7, $8, $9)
		ON CONFLICT (target_id) DO UPDATE
		SET stage = EXCLUDED.stage,
		    priority = EXCLUDED.priority,
		    last_outbound_at = EXCLUDED.last_outbound_at,
		    last_inbound_at = EXCLUDED.last_inbound_at,
		    reply_latency_sec = EXCLUDED.reply_latency_sec,
		    updated_at = EXCLUDED.updated_at
	`, conv.TargetID, conv.ResourceID, conv.Stage, conv.Priority, conv.LastOutboundAt, conv.LastInboundAt,
		conv.ReplyLatency, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to upsert conversation", err)
	}
	return nil
}

func scanConversation(row interface{ Scan(...interface{}) error }) (*model.Conversation, error) {
	conv := model.Conversation{}
	var lastOutbound, lastInbound sql.NullTime

	err := row.Scan(&conv.TargetID, &conv.ResourceID, &conv.Stage, &conv.Priority,
		&lastOutbound, &lastInbound, &conv.ReplyLatency, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastOutbound.Valid {
		conv.LastOutboundAt = lastOutbound.Time
	}
	if lastInbound.Valid {
		conv.LastInboundAt = lastInbound.Time
	}
	return &conv, nil
}

const conversationColumns = `
	target_id, resource_id, stage, priority, last_outbound_at, last_inbound_at, reply_latency_sec, created_at, updated_at`

func (d Datasource) GetConversation(ctx context.Context, targetID string) (*model.Conversation, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM parakeet.conversations
		WHERE target_id = $1
	`, targetID)

	conv, err := scanConversation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Conversation not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve conversation", err)
	}
	return conv, nil
}

// GetEngagedAbove returns engaged conversations whose priority passed the
// threshold, the promotion candidates for handoff.
func (d Datasource) GetEngagedAbove(ctx context.Context, minPriority float64) ([]*model.Conversation, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM parakeet.conversations
		WHERE stage = $1 AND priority >= $2
		ORDER BY priority DESC
	`, model.StageEngaged, minPriority)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve engaged conversations", err)
	}
	defer rows.Close()

	conversations := []*model.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan conversation row", err)
		}
		conversations = append(conversations, conv)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating conversation rows", err)
	}
	return conversations, nil
}

// GetHandoffReady returns the export view for the downstream consumer,
// sorted by priority descending.
func (d Datasource) GetHandoffReady(ctx context.Context, limit int) ([]*model.Conversation, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM parakeet.conversations
		WHERE stage = $1
		ORDER BY priority DESC
		LIMIT $2
	`, model.StageHandoffReady, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve handoff conversations", err)
	}
	defer rows.Close()

	conversations := []*model.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan conversation row", err)
		}
		conversations = append(conversations, conv)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating conversation rows", err)
	}
	return conversations, nil
}

// MarkAbandonedBefore is the staleness sweep: any conversation in a
// non-terminal stage with no activity since the cutoff is abandoned.
func (d Datasource) MarkAbandonedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE parakeet.conversations
		SET stage = $1, updated_at = NOW()
		WHERE stage NOT IN ($2, $3)
		  AND GREATEST(COALESCE(last_outbound_at, created_at), COALESCE(last_inbound_at, created_at)) < $4
	`, model.StageAbandoned, model.StageClosed, model.StageAbandoned, cutoff)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to abandon stale conversations", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read sweep result", err)
	}
	return affected, nil
}
