/*
   Copyright 2020 YANDEX LLC

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package pgstrict

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ Connection = (*mockConnection)(nil)

// mockConnection returns stored results to shape method tests
type mockConnection struct {
	result *QueryResult
	err    error

	lastSQL    string
	lastValues []any
}

func (m *mockConnection) Query(_ context.Context, sql string, values ...any) (*QueryResult, error) {
	m.lastSQL = sql
	m.lastValues = values
	return m.result, m.err
}

var _ pgx.Rows = (*fakeRows)(nil)

// fakeRows plays back canned wire rows to driver tests. Raw values feed
// RawValues, scan values feed Scan; either may be nil.
type fakeRows struct {
	fields []pgconn.FieldDescription
	raw    [][][]byte
	scans  [][]any
	tag    pgconn.CommandTag
	err    error

	idx    int
	closed bool
}

func (r *fakeRows) rowCount() int {
	if len(r.raw) > len(r.scans) {
		return len(r.raw)
	}
	return len(r.scans)
}

func (r *fakeRows) Next() bool {
	if r.closed || r.idx >= r.rowCount() {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) RawValues() [][]byte {
	return r.raw[r.idx-1]
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.scans[r.idx-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *uint32:
			*p = row[i].(uint32)
		case *string:
			*p = row[i].(string)
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return r.tag }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

var _ wireConn = (*fakeWireConn)(nil)

// fakeWireConn substitutes the underlying wire-protocol client
type fakeWireConn struct {
	mu      sync.Mutex
	queryFn func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	queries []string
	closed  bool
}

func (c *fakeWireConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.mu.Lock()
	c.queries = append(c.queries, sql)
	c.mu.Unlock()

	if c.queryFn != nil {
		return c.queryFn(ctx, sql, args...)
	}
	return &fakeRows{}, nil
}

func (c *fakeWireConn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeWireConn) queryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

var _ slog.Handler = (*recordingHandler)(nil)

// recordingHandler captures log records emitted by shape methods
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) all() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Record(nil), h.records...)
}

// queryIDOf extracts the queryId attribute from a captured record
func queryIDOf(r slog.Record) string {
	var id string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "queryId" {
			id = a.Value.String()
			return false
		}
		return true
	})
	return id
}

func newTestLogger() (*slog.Logger, *recordingHandler) {
	h := &recordingHandler{}
	return slog.New(h), h
}

// makeResult builds a QueryResult from column names and row values
func makeResult(columns []string, rows ...[]any) *QueryResult {
	fields := make([]Field, len(columns))
	for i, c := range columns {
		fields[i] = Field{Name: c, DataTypeOID: 25}
	}

	out := make([]Row, len(rows))
	for i, values := range rows {
		row := make(Row, len(values))
		for j, v := range values {
			row[columns[j]] = v
		}
		out[i] = row
	}

	return &QueryResult{
		Command:  CommandSelect,
		Fields:   fields,
		RowCount: int64(len(rows)),
		Rows:     out,
	}
}
