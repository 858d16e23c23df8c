package database

import (
	"fmt"

	"deltatv-proxy/work/types"
)

// GetOverrides returns every override of a provider keyed by channel id
func (db *DB) GetOverrides(provider string) (map[string]types.Override, error) {
	rows, err := db.Query(`
		SELECT channel_id, name, logo, updated_at
		FROM channel_overrides
		WHERE provider = ?
	`, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.Override)
	for rows.Next() {
		o := types.Override{Provider: provider}
		var updated int64
		if err := rows.Scan(&o.ChannelID, &o.Name, &o.Logo, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		o.UpdatedAt = fromUnix(updated)
		out[o.ChannelID] = o
	}
	return out, rows.Err()
}

// GetOverride returns one override, types.ErrNotFound when there is none
func (db *DB) GetOverride(provider, channelID string) (types.Override, error) {
	o := types.Override{Provider: provider, ChannelID: channelID}
	var updated int64
	err := db.QueryRow(`
		SELECT name, logo, updated_at
		FROM channel_overrides
		WHERE provider = ? AND channel_id = ?
	`, provider, channelID).Scan(&o.Name, &o.Logo, &updated)
	if err != nil {
		return types.Override{}, notFound(err, "override %s/%s", provider, channelID)
	}
	o.UpdatedAt = fromUnix(updated)
	return o, nil
}

// SetOverride inserts or replaces a display override. UpdatedAt is set here.
func (db *DB) SetOverride(o types.Override) (types.Override, error) {
	o.UpdatedAt = fromUnix(db.now().Unix())
	_, err := db.Exec(`
		INSERT INTO channel_overrides (provider, channel_id, name, logo, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, channel_id) DO UPDATE SET
			name = excluded.name,
			logo = excluded.logo,
			updated_at = excluded.updated_at
	`, o.Provider, o.ChannelID, o.Name, o.Logo, unix(o.UpdatedAt))
	if err != nil {
		return types.Override{}, fmt.Errorf("failed to save override: %w", err)
	}
	return o, nil
}

// DeleteOverride removes an override, types.ErrNotFound when there was none
func (db *DB) DeleteOverride(provider, channelID string) error {
	res, err := db.Exec("DELETE FROM channel_overrides WHERE provider = ? AND channel_id = ?", provider, channelID)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	return affected(res, "override %s/%s", provider, channelID)
}
