package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Scope is a set of column equality predicates identifying the rows a
// ReplaceScoped call owns.
type Scope struct {
	Columns []string
	Values  []any
}

func (s Scope) where() string {
	preds := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		preds[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
	}
	return strings.Join(preds, " AND ")
}

// ReplaceScoped deletes every row matching scope and COPYs rows in, in one
// transaction. Readers never observe a half-replaced scope.
func ReplaceScoped(ctx context.Context, pool Pool, table string, scope Scope, columns []string, rows [][]any) (int64, error) {
	if len(scope.Columns) == 0 || len(scope.Columns) != len(scope.Values) {
		return 0, eris.New("db: replace: invalid scope")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	del := fmt.Sprintf("DELETE FROM %s WHERE %s", sanitizeTable(table), scope.where())
	if _, err := tx.Exec(ctx, del, scope.Values...); err != nil {
		return 0, eris.Wrapf(err, "db: replace: delete from %s", table)
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "db: replace: copy into %s", table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return n, nil
}

func identifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.SplitN(table, ".", 2))
}
