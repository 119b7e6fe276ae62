package database

import (
	"context"
	"testing"
	"time"
)

func TestSettings(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	ctx := context.Background()

	if _, ok, err := db.GetSetting(ctx, "k"); err != nil || ok {
		t.Fatalf("unset key: ok=%v err=%v", ok, err)
	}
	if err := db.SetSetting(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := db.SetSetting(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetSetting overwrite failed: %v", err)
	}
	if v, ok, _ := db.GetSetting(ctx, "k"); !ok || v != "v2" {
		t.Errorf("GetSetting = %q, %v", v, ok)
	}
	if err := db.DeleteSetting(ctx, "k"); err != nil {
		t.Fatalf("DeleteSetting failed: %v", err)
	}
	if err := db.DeleteSetting(ctx, "k"); err != nil {
		t.Errorf("deleting an unset key should succeed, got %v", err)
	}
}

func TestReindexCursorPersistence(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	ctx := context.Background()

	c, err := db.ReindexCursor(ctx)
	if err != nil || c != nil {
		t.Fatalf("fresh cursor = %v, %v", c, err)
	}

	want := ReindexCursor{CreatedAt: 42, ID: "abc", Key: "en ja"}
	if err := db.SetReindexCursor(ctx, want); err != nil {
		t.Fatalf("SetReindexCursor failed: %v", err)
	}
	got, err := db.ReindexCursor(ctx)
	if err != nil || got == nil || *got != want {
		t.Fatalf("ReindexCursor = %v, %v", got, err)
	}

	if err := db.ClearReindexCursor(ctx); err != nil {
		t.Fatalf("ClearReindexCursor failed: %v", err)
	}
	if got, _ := db.ReindexCursor(ctx); got != nil {
		t.Errorf("cursor not cleared: %v", got)
	}

	if err := db.SetAppliedOCRKey(ctx, "en"); err != nil {
		t.Fatalf("SetAppliedOCRKey failed: %v", err)
	}
	if key, _ := db.AppliedOCRKey(ctx); key != "en" {
		t.Errorf("AppliedOCRKey = %q", key)
	}
}

func TestLegacyImportMarker(t *testing.T) {
	t.Parallel()

	db, clock := setupTestDB(t)
	ctx := context.Background()

	if ts, err := db.LegacyImportedAt(ctx); err != nil || ts != 0 {
		t.Fatalf("fresh marker = %d, %v", ts, err)
	}
	clock.Advance(time.Minute)
	if err := db.MarkLegacyImported(ctx); err != nil {
		t.Fatalf("MarkLegacyImported failed: %v", err)
	}
	if ts, _ := db.LegacyImportedAt(ctx); ts != clock.now.UnixMilli() {
		t.Errorf("LegacyImportedAt = %d, want %d", ts, clock.now.UnixMilli())
	}
}
