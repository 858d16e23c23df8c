package database

import (
	"fmt"

	"deltatv-proxy/work/types"
)

// RecordSync stores the outcome of one catalog refresh and returns it with its id
func (db *DB) RecordSync(run types.SyncRun) (types.SyncRun, error) {
	res, err := db.Exec(`
		INSERT INTO sync_runs (provider, started_at, finished_at, entries, countries, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.Provider, unix(run.StartedAt), unix(run.FinishedAt), run.Entries, run.Countries, run.Error)
	if err != nil {
		return types.SyncRun{}, fmt.Errorf("failed to record sync run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return types.SyncRun{}, fmt.Errorf("failed to read sync run id: %w", err)
	}
	return run, nil
}

// RecentSyncs returns at most limit runs, newest first. An empty provider
// returns runs of every provider.
func (db *DB) RecentSyncs(provider string, limit int) ([]types.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(`
		SELECT id, provider, started_at, finished_at, entries, countries, error
		FROM sync_runs
		WHERE ? = '' OR provider = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, provider, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var out []types.SyncRun
	for rows.Next() {
		var run types.SyncRun
		var started, finished int64
		if err := rows.Scan(&run.ID, &run.Provider, &started, &finished, &run.Entries, &run.Countries, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.StartedAt = fromUnix(started)
		run.FinishedAt = fromUnix(finished)
		out = append(out, run)
	}
	return out, rows.Err()
}
