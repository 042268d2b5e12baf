package services

import (
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/platform/ctxutil"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
)

// withTx runs fn inside the caller's transaction when there is one, and in a
// fresh transaction on db otherwise.
func withTx(dbc dbctx.Context, db *gorm.DB, fn func(dbctx.Context) error) error {
	ctx := ctxutil.Default(dbc.Ctx)
	if dbc.Tx != nil {
		return fn(dbctx.Context{Ctx: ctx, Tx: dbc.Tx})
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}
