package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
)

func CreateSchema(ctx context.Context, db *bun.DB) error {
	if err := db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range []interface{}{
			(*eventRow)(nil),
			(*instanceRow)(nil),
		} {
			if _, err := tx.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx); err != nil {
				return err
			}
		}

		for _, idx := range []struct {
			name    string
			model   interface{}
			columns []string
		}{
			{"events_tenant_range_idx", (*eventRow)(nil), []string{"tenant_id", "start_date", "end_date"}},
			{"instances_tenant_range_idx", (*instanceRow)(nil), []string{"tenant_id", "start_date", "end_date"}},
			{"instances_parent_idx", (*instanceRow)(nil), []string{"parent_event_id", "start_date"}},
		} {
			if _, err := tx.NewCreateIndex().
				Model(idx.model).
				Index(idx.name).
				Column(idx.columns...).
				IfNotExists().
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("CreateSchema: %w", err)
	}
	return nil
}
