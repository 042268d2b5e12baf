package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/nexston/bekola-backend/internal/data/repos/testutil"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
)

func TestJobRunRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewJobRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	now := time.Now().UTC()
	newJob := func(status string, age time.Duration) *types.JobRun {
		return &types.JobRun{
			ID:         uuid.New(),
			JobType:    "video_transcode_test",
			EntityType: "video",
			EntityID:   testutil.PtrUUID(uuid.New()),
			Status:     status,
			Stage:      status,
			Payload:    datatypes.JSON([]byte("{}")),
			Result:     datatypes.JSON([]byte("{}")),
			CreatedAt:  now.Add(-age),
			UpdatedAt:  now.Add(-age),
		}
	}
	queued := newJob("queued", 3*time.Hour)
	failed := newJob("failed", 2*time.Hour)
	failed.LastErrorAt = testutil.PtrTime(now.Add(-2 * time.Hour))
	staleRunning := newJob("running", time.Hour)
	staleRunning.HeartbeatAt = testutil.PtrTime(now.Add(-10 * time.Hour))
	exhausted := newJob("failed", 30*time.Minute)
	exhausted.Attempts = 3

	if _, err := repo.Create(dbc, []*types.JobRun{queued, failed, staleRunning, exhausted}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rows, err := repo.GetByIDs(dbc, []uuid.UUID{queued.ID, failed.ID, staleRunning.ID}); err != nil || len(rows) != 3 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}

	// Claims walk the runnable set oldest first and skip exhausted retries.
	for i, want := range []uuid.UUID{queued.ID, failed.ID, staleRunning.ID} {
		got, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
		if err != nil {
			t.Fatalf("ClaimNextRunnable #%d: %v", i+1, err)
		}
		if got == nil || got.ID != want {
			t.Fatalf("ClaimNextRunnable #%d: expected %v got %v", i+1, want, got)
		}
		if got.Status != "running" {
			t.Fatalf("ClaimNextRunnable #%d: expected running, got %q", i+1, got.Status)
		}
	}
	if got, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour); err != nil || got != nil {
		t.Fatalf("ClaimNextRunnable #4: expected nil, got %v err=%v", got, err)
	}

	if err := repo.Heartbeat(dbc, queued.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// Canceled rows are not overwritten.
	if err := repo.UpdateFields(dbc, failed.ID, map[string]interface{}{"status": "canceled"}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	ok, err := repo.UpdateFieldsUnlessStatus(dbc, failed.ID, []string{"canceled"}, map[string]interface{}{"status": "succeeded"})
	if err != nil || ok {
		t.Fatalf("UpdateFieldsUnlessStatus(canceled): ok=%v err=%v", ok, err)
	}
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, queued.ID, []string{"canceled"}, map[string]interface{}{"status": "succeeded"})
	if err != nil || !ok {
		t.Fatalf("UpdateFieldsUnlessStatus(running): ok=%v err=%v", ok, err)
	}

	entityID := uuid.New()
	older := newJob("succeeded", 5*time.Hour)
	older.EntityID = &entityID
	newer := newJob("queued", 4*time.Hour)
	newer.EntityID = &entityID
	if _, err := repo.Create(dbc, []*types.JobRun{older, newer}); err != nil {
		t.Fatalf("seed latest: %v", err)
	}
	latest, err := repo.GetLatestByEntity(dbc, "video", entityID, "video_transcode_test")
	if err != nil || latest == nil || latest.ID != newer.ID {
		t.Fatalf("GetLatestByEntity: expected %v got %v err=%v", newer.ID, latest, err)
	}
	has, err := repo.HasRunnableForEntity(dbc, "video", entityID, "video_transcode_test")
	if err != nil || !has {
		t.Fatalf("HasRunnableForEntity: expected true, err=%v", err)
	}
	has, err = repo.HasRunnableForEntity(dbc, "video", uuid.New(), "video_transcode_test")
	if err != nil || has {
		t.Fatalf("HasRunnableForEntity(other): expected false, err=%v", err)
	}
}
