package database

import (
	"database/sql"
	"errors"
	"fmt"

	"deltatv-proxy/work/types"
)

// DisableChannel hides a channel from the catalog and refuses to resolve it.
// Disabling an already disabled channel updates its reason.
func (db *DB) DisableChannel(provider, channelID, reason string) (types.DisabledChannel, error) {
	d := types.DisabledChannel{
		Provider:  provider,
		ChannelID: channelID,
		Reason:    reason,
		CreatedAt: fromUnix(db.now().Unix()),
	}
	_, err := db.Exec(`
		INSERT INTO disabled_channels (provider, channel_id, reason, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(provider, channel_id) DO UPDATE SET
			reason = excluded.reason
	`, provider, channelID, reason, unix(d.CreatedAt))
	if err != nil {
		return types.DisabledChannel{}, fmt.Errorf("failed to disable channel: %w", err)
	}
	return d, nil
}

// EnableChannel removes a channel from the disabled list
func (db *DB) EnableChannel(provider, channelID string) error {
	res, err := db.Exec("DELETE FROM disabled_channels WHERE provider = ? AND channel_id = ?", provider, channelID)
	if err != nil {
		return fmt.Errorf("failed to enable channel: %w", err)
	}
	return affected(res, "disabled channel %s/%s", provider, channelID)
}

// IsDisabled checks if a channel is on the disabled list
func (db *DB) IsDisabled(provider, channelID string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM disabled_channels WHERE provider = ? AND channel_id = ?)
	`, provider, channelID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check disabled channel: %w", err)
	}
	return exists, nil
}

// DisabledIDs returns the disabled channel ids of a provider as a set
func (db *DB) DisabledIDs(provider string) (map[string]struct{}, error) {
	list, err := db.ListDisabled(provider)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(list))
	for _, d := range list {
		ids[d.ChannelID] = struct{}{}
	}
	return ids, nil
}

// ListDisabled returns the disabled channels of a provider, newest first
func (db *DB) ListDisabled(provider string) ([]types.DisabledChannel, error) {
	rows, err := db.Query(`
		SELECT channel_id, reason, created_at
		FROM disabled_channels
		WHERE provider = ?
		ORDER BY created_at DESC, channel_id
	`, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to query disabled channels: %w", err)
	}
	defer rows.Close()

	var out []types.DisabledChannel
	for rows.Next() {
		d := types.DisabledChannel{Provider: provider}
		var created int64
		if err := rows.Scan(&d.ChannelID, &d.Reason, &created); err != nil {
			return nil, fmt.Errorf("failed to scan disabled channel: %w", err)
		}
		d.CreatedAt = fromUnix(created)
		out = append(out, d)
	}
	return out, rows.Err()
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), types.ErrNotFound)
	}
	return fmt.Errorf("failed to query %s: %w", fmt.Sprintf(format, args...), err)
}

func affected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), types.ErrNotFound)
	}
	return nil
}
