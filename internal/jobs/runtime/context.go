package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/jobs"
	"github.com/nexston/bekola-backend/internal/platform/ctxutil"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/services"
)

// Context is the handle a handler gets for one claimed job_run. Handlers
// report through Progress, Fail and Succeed and never write job_run rows
// themselves.
//
// Every lifecycle write skips rows that were canceled while the handler ran.
type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *types.JobRun
	Repo   repos.JobRunRepo
	Notify services.JobNotifier

	// OnHeartbeat, when set, runs on every Heartbeat and Progress call. The
	// Temporal activity uses it to heartbeat the activity as well as the row.
	OnHeartbeat func(stage string, progress int)

	payload map[string]any
}

// NewContext decodes the payload up front. A malformed payload decodes to an
// empty map; handlers validate the fields they need.
func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo, notify services.JobNotifier) *Context {
	c := &Context{
		Ctx:    ctxutil.Default(ctx),
		DB:     db,
		Job:    job,
		Repo:   repo,
		Notify: notify,
	}
	c.payload = decodePayload(job)
	c.restoreTrace()
	return c
}

func decodePayload(job *types.JobRun) map[string]any {
	out := map[string]any{}
	if job == nil || len(job.Payload) == 0 {
		return out
	}
	if err := json.Unmarshal(job.Payload, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// restoreTrace carries the enqueuing request's ids into the handler's logs.
func (c *Context) restoreTrace() {
	traceID := c.PayloadString("trace_id")
	reqID := c.PayloadString("request_id")
	if traceID == "" && reqID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{TraceID: traceID, RequestID: reqID})
}

func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// PayloadUUID parses a payload field; false when it is missing or malformed.
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	s := c.PayloadString(key)
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) hasRow() bool {
	return c != nil && c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil
}

// write applies updates unless the row was canceled; false means the job is
// no longer ours to report on.
func (c *Context) write(updates map[string]interface{}) bool {
	if !c.hasRow() {
		return c != nil && c.Job != nil
	}
	ok, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: context.WithoutCancel(c.Ctx)}, c.Job.ID, []string{jobs.StatusCanceled}, updates)
	return err == nil && ok
}

// Heartbeat keeps a long step from being reclaimed as stale.
func (c *Context) Heartbeat() {
	if c == nil {
		return
	}
	if c.hasRow() {
		_ = c.Repo.Heartbeat(dbctx.Context{Ctx: context.WithoutCancel(c.Ctx)}, c.Job.ID)
	}
	if c.OnHeartbeat != nil && c.Job != nil {
		c.OnHeartbeat(c.Job.Stage, c.Job.Progress)
	}
}

func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil {
		return
	}
	now := time.Now().UTC()
	if !c.write(map[string]interface{}{
		"stage":        stage,
		"progress":     pct,
		"message":      msg,
		"heartbeat_at": now,
		"updated_at":   now,
	}) {
		return
	}
	c.Job.Stage = stage
	c.Job.Progress = pct
	c.Job.Message = msg
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now

	if c.OnHeartbeat != nil {
		c.OnHeartbeat(stage, pct)
	}
	if c.Notify != nil {
		c.Notify.JobProgress(c.Job, stage, pct, msg)
	}
}

// Fail records a failed attempt. The database pool claims failed rows again
// while attempts remain.
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	now := time.Now().UTC()
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if !c.write(map[string]interface{}{
		"status":        jobs.StatusFailed,
		"stage":         stage,
		"message":       "",
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	}) {
		return
	}
	c.Job.Status = jobs.StatusFailed
	c.Job.Stage = stage
	c.Job.Message = ""
	c.Job.Error = msg
	c.Job.LastErrorAt = &now
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now

	if c.Notify != nil {
		c.Notify.JobFailed(c.Job, stage, msg)
	}
}

func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	now := time.Now().UTC()
	res := datatypes.JSON([]byte(`{}`))
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			res = datatypes.JSON(b)
		}
	}
	if !c.write(map[string]interface{}{
		"status":       jobs.StatusSucceeded,
		"stage":        finalStage,
		"progress":     100,
		"message":      "",
		"error":        "",
		"result":       res,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	}) {
		return
	}
	c.Job.Status = jobs.StatusSucceeded
	c.Job.Stage = finalStage
	c.Job.Progress = 100
	c.Job.Message = ""
	c.Job.Error = ""
	c.Job.Result = res
	c.Job.LockedAt = nil
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now

	if c.Notify != nil {
		c.Notify.JobDone(c.Job)
	}
}
