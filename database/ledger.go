package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/parakeet-hq/parakeet/internal/apierror"
	"github.com/parakeet-hq/parakeet/model"
)

// TryMarkContacted claims the contact action for a target in a single atomic
// statement. The insert either creates a contacted entry, flips an existing
// uncontacted entry, or touches nothing because the target was already
// claimed — the row count distinguishes the cases. This is the compare-and-set
// behind the exactly-once guarantee; it holds across workers and restarts.
func (d Datasource) TryMarkContacted(ctx context.Context, targetID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO parakeet.contact_ledger (target_id, first_seen_at, contacted, contacted_at)
		VALUES ($1, NOW(), TRUE, NOW())
		ON CONFLICT (target_id) DO UPDATE
		SET contacted = TRUE, contacted_at = NOW()
		WHERE parakeet.contact_ledger.contacted = FALSE
	`, targetID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark target contacted", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read ledger result", err)
	}

	// Zero rows touched means the conflict clause skipped an already
	// contacted entry: another worker won the race.
	return affected == 0, nil
}

func (d Datasource) MarkHandedOff(ctx context.Context, targetID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE parakeet.contact_ledger
		SET handed_off = TRUE, handed_off_at = NOW()
		WHERE target_id = $1 AND contacted = TRUE
	`, targetID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark target handed off", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read handoff result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "No contacted ledger entry for target", targetID)
	}
	return nil
}

func (d Datasource) GetLedgerEntry(ctx context.Context, targetID string) (*model.LedgerEntry, error) {
	entry := model.LedgerEntry{}
	var contactedAt, handedOffAt sql.NullTime

	row := d.Conn.QueryRowContext(ctx, `
		SELECT target_id, first_seen_at, contacted, contacted_at, handed_off, handed_off_at
		FROM parakeet.contact_ledger
		WHERE target_id = $1
	`, targetID)

	err := row.Scan(&entry.TargetID, &entry.FirstSeenAt, &entry.Contacted, &contactedAt, &entry.HandedOff, &handedOffAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Ledger entry not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entry", err)
	}

	if contactedAt.Valid {
		entry.ContactedAt = contactedAt.Time
	}
	if handedOffAt.Valid {
		entry.HandedOffAt = handedOffAt.Time
	}
	return &entry, nil
}

func (d Datasource) IsContacted(ctx context.Context, targetID string) (bool, error) {
	var contacted bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT contacted FROM parakeet.contact_ledger WHERE target_id = $1
	`, targetID).Scan(&contacted)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check ledger entry", err)
	}
	return contacted, nil
}

// IncrementContactCount bumps the minute-bucketed contact counter with a
// single upsert so concurrent workers never hold a read-modify-write lock.
func (d Datasource) IncrementContactCount(ctx context.Context, resourceID string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO parakeet.activity_counters (bucket_start, resource_id, contacts, replies)
		VALUES (date_trunc('minute', $2::timestamptz), $1, 1, 0)
		ON CONFLICT (bucket_start, resource_id) DO UPDATE
		SET contacts = parakeet.activity_counters.contacts + 1
	`, resourceID, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to increment contact counter", err)
	}
	return nil
}

func (d Datasource) IncrementReplyCount(ctx context.Context, resourceID string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO parakeet.activity_counters (bucket_start, resource_id, contacts, replies)
		VALUES (date_trunc('minute', $2::timestamptz), $1, 0, 1)
		ON CONFLICT (bucket_start, resource_id) DO UPDATE
		SET replies = parakeet.activity_counters.replies + 1
	`, resourceID, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to increment reply counter", err)
	}
	return nil
}

func (d Datasource) GetActivityCounts(ctx context.Context, since time.Time) (int64, int64, error) {
	var contacts, replies int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(contacts), 0), COALESCE(SUM(replies), 0)
		FROM parakeet.activity_counters
		WHERE bucket_start >= $1
	`, since).Scan(&contacts, &replies)
	if err != nil {
		return 0, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read activity counters", err)
	}
	return contacts, replies, nil
}

// GetResourceActivityCounts returns {contacts, replies} per resource over the
// trailing window, for the per-resource rate view.
func (d Datasource) GetResourceActivityCounts(ctx context.Context, since time.Time) (map[string][2]int64, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT resource_id, COALESCE(SUM(contacts), 0), COALESCE(SUM(replies), 0)
		FROM parakeet.activity_counters
		WHERE bucket_start >= $1
		GROUP BY resource_id
	`, since)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read per-resource counters", err)
	}
	defer rows.Close()

	counts := map[string][2]int64{}
	for rows.Next() {
		var resourceID string
		var contacts, replies int64
		if err := rows.Scan(&resourceID, &contacts, &replies); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan counter row", err)
		}
		counts[resourceID] = [2]int64{contacts, replies}
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating counter rows", err)
	}
	return counts, nil
}
