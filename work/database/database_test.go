package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"deltatv-proxy/work/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "deltatv.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deltatv.db")
	for i := 0; i < 2; i++ {
		db, err := Open(path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil || n != 1 {
			t.Fatalf("migrations = %d, err = %v", n, err)
		}
		db.Close()
	}
}

func TestOverrides(t *testing.T) {
	db := openTestDB(t)
	db.now = func() time.Time { return time.Unix(1700000000, 0) }

	if _, err := db.GetOverride("delta", "1"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("missing override err = %v", err)
	}

	saved, err := db.SetOverride(types.Override{Provider: "delta", ChannelID: "1", Name: "TF1"})
	if err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if _, err := db.SetOverride(types.Override{Provider: "delta", ChannelID: "1", Name: "TF1 France", Logo: "https://logo"}); err != nil {
		t.Fatalf("SetOverride update: %v", err)
	}
	db.SetOverride(types.Override{Provider: "other", ChannelID: "1", Name: "elsewhere"})

	all, err := db.GetOverrides("delta")
	if err != nil {
		t.Fatalf("GetOverrides: %v", err)
	}
	if len(all) != 1 || all["1"].Name != "TF1 France" || all["1"].Logo != "https://logo" {
		t.Fatalf("overrides = %+v", all)
	}
	if !all["1"].UpdatedAt.Equal(saved.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", all["1"].UpdatedAt, saved.UpdatedAt)
	}

	if err := db.DeleteOverride("delta", "1"); err != nil {
		t.Fatalf("DeleteOverride: %v", err)
	}
	if err := db.DeleteOverride("delta", "1"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestDisabledChannels(t *testing.T) {
	db := openTestDB(t)

	if ok, _ := db.IsDisabled("delta", "7"); ok {
		t.Fatal("nothing is disabled yet")
	}
	if _, err := db.DisableChannel("delta", "7", "dead"); err != nil {
		t.Fatalf("DisableChannel: %v", err)
	}
	if _, err := db.DisableChannel("delta", "7", "still dead"); err != nil {
		t.Fatalf("DisableChannel again: %v", err)
	}
	db.DisableChannel("delta", "8", "")

	if ok, err := db.IsDisabled("delta", "7"); err != nil || !ok {
		t.Fatalf("IsDisabled = %v, %v", ok, err)
	}
	ids, err := db.DisabledIDs("delta")
	if err != nil || len(ids) != 2 {
		t.Fatalf("DisabledIDs = %v, %v", ids, err)
	}
	list, _ := db.ListDisabled("delta")
	for _, d := range list {
		if d.ChannelID == "7" && d.Reason != "still dead" {
			t.Errorf("reason = %q", d.Reason)
		}
	}

	if err := db.EnableChannel("delta", "7"); err != nil {
		t.Fatalf("EnableChannel: %v", err)
	}
	if err := db.EnableChannel("delta", "7"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("second enable err = %v", err)
	}
	if ok, _ := db.IsDisabled("delta", "7"); ok {
		t.Fatal("channel should be enabled")
	}
}

func TestSyncRuns(t *testing.T) {
	db := openTestDB(t)
	base := time.Unix(1700000000, 0).UTC()

	for i, provider := range []string{"delta", "m3u", "delta"} {
		run, err := db.RecordSync(types.SyncRun{
			Provider:   provider,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 5*time.Second),
			Entries:    100 * (i + 1),
			Countries:  3,
		})
		if err != nil || run.ID == 0 {
			t.Fatalf("RecordSync: %+v, %v", run, err)
		}
	}
	db.RecordSync(types.SyncRun{Provider: "delta", StartedAt: base.Add(-time.Hour), FinishedAt: base, Error: "timeout"})

	runs, err := db.RecentSyncs("delta", 10)
	if err != nil {
		t.Fatalf("RecentSyncs: %v", err)
	}
	if len(runs) != 3 || runs[0].Entries != 300 || runs[2].Error != "timeout" {
		t.Fatalf("runs = %+v", runs)
	}
	if !runs[0].StartedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("StartedAt = %v", runs[0].StartedAt)
	}

	all, _ := db.RecentSyncs("", 2)
	if len(all) != 2 {
		t.Fatalf("limit not applied: %d", len(all))
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	db.DisableChannel("delta", "1", "")

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats["disabled_channels_count"] != 1 || stats["database_size_bytes"] <= 0 {
		t.Fatalf("stats = %v", stats)
	}
}
