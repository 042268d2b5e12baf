package media

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nexston/bekola-backend/internal/data/repos/testutil"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/media"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
)

func TestVideoAssetProgressIsMonotonicWhileConverting(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewVideoAssetRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	src := "uploads/raw.mp4"
	created, err := repo.Create(dbc, []*types.VideoAsset{{CourseID: uuid.New(), SourceKey: &src}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v := created[0]
	if v.Stage != media.StageUploading || v.Status != media.StatusProcessing {
		t.Fatalf("defaults: got stage=%q status=%q", v.Stage, v.Status)
	}

	if ok, err := repo.UpdateProgressIfConverting(dbc, v.ID, 10); err != nil || ok {
		t.Fatalf("progress before converting: ok=%v err=%v", ok, err)
	}
	if err := repo.UpdateFields(dbc, v.ID, map[string]interface{}{"stage": media.StageConverting}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if ok, err := repo.UpdateProgressIfConverting(dbc, v.ID, 40); err != nil || !ok {
		t.Fatalf("progress 40: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.UpdateProgressIfConverting(dbc, v.ID, 25); err != nil || ok {
		t.Fatalf("progress regression: ok=%v err=%v", ok, err)
	}
	got, err := repo.GetByID(dbc, v.ID)
	if err != nil || got == nil || got.Progress != 40 {
		t.Fatalf("GetByID: err=%v got=%+v", err, got)
	}

	if err := repo.UpdateFields(dbc, v.ID, map[string]interface{}{"stage": media.StageUploadingHLS}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if ok, err := repo.UpdateProgressIfConverting(dbc, v.ID, 90); err != nil || ok {
		t.Fatalf("progress after converting: ok=%v err=%v", ok, err)
	}
}

func TestVideoAssetAppendLog(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewVideoAssetRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	created, err := repo.Create(dbc, []*types.VideoAsset{{CourseID: uuid.New(), Log: "ffmpeg started"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := created[0].ID
	if err := repo.AppendLog(dbc, id, "\nERROR: boom"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	got, err := repo.GetByID(dbc, id)
	if err != nil || got == nil {
		t.Fatalf("GetByID: err=%v", err)
	}
	if !strings.HasPrefix(got.Log, "ffmpeg started") || !strings.HasSuffix(got.Log, "ERROR: boom") {
		t.Fatalf("log: got %q", got.Log)
	}
}
