package repository

import (
	"context"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type call struct {
	SQL  string
	Args []any
}

// fakeDB records statements and answers them from queued responses.
type fakeDB struct {
	execs   []call
	queries []call

	execResults []execResult
	rowResults  []fakeRow
	rowsResult  *fakeRows
	queryErr    error
}

type execResult struct {
	tag pgconn.CommandTag
	err error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, call{SQL: sql, Args: args})
	if len(f.execResults) == 0 {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	res := f.execResults[0]
	f.execResults = f.execResults[1:]
	return res.tag, res.err
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, call{SQL: sql, Args: args})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.rowsResult == nil {
		return &fakeRows{}, nil
	}
	return f.rowsResult, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, call{SQL: sql, Args: args})
	if len(f.rowResults) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	row := f.rowResults[0]
	f.rowResults = f.rowResults[1:]
	return row
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	assign(dest, r.values)
	return nil
}

type fakeRows struct {
	rows   [][]any
	idx    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("UPDATE 0") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	assign(dest, r.rows[r.idx-1])
	return nil
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

func assign(dest []any, values []any) {
	for i := range dest {
		if i >= len(values) {
			return
		}
		target := reflect.ValueOf(dest[i]).Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(values[i]))
	}
}
