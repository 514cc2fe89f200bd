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

	"github.com/jackc/pgx/v5"
)

// Stream opens a lazy cursor over the statement's rows. The underlying
// client cannot multiplex statements, so the connection stays busy until
// the stream is exhausted or closed: Query, Stream and End block for that
// long. The row description arrives only once consumption begins, and
// never arrives for a statement the backend fails to parse, so Fields
// stays nil until the first successful Next.
func (c *DriverConnection) Stream(ctx context.Context, sql string, values ...any) (*RowStream, error) {
	c.mu.Lock()

	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}

	rows, err := c.queryText(ctx, sql, values)
	if err != nil {
		c.mu.Unlock()
		return nil, mapError(err, sql, values)
	}

	return &RowStream{
		rows:     rows,
		registry: c.registry,
		sql:      sql,
		values:   values,
		release:  c.mu.Unlock,
	}, nil
}

// RowStream is a lazy, ordered, finite, non-restartable sequence of rows
// produced by Stream. Rows arrive in the order the backend produces them.
type RowStream struct {
	rows     pgx.Rows
	registry *typeRegistry
	sql      string
	values   []any
	release  func()

	fields []Field
	row    Row
	err    error
	done   bool
}

// Next advances the stream. It returns false once the stream is exhausted
// or failed; Err tells the two apart.
func (s *RowStream) Next() bool {
	if s.done {
		return false
	}

	if !s.rows.Next() {
		s.finish()
		return false
	}

	if s.fields == nil {
		s.fields = fieldsOf(s.rows.FieldDescriptions())
	}

	row, err := s.registry.decodeRow(s.fields, s.rows.RawValues())
	if err != nil {
		s.finish()
		s.err = err
		return false
	}

	s.row = row
	return true
}

// Fields returns the row description observed so far. It is nil until the
// first successful Next; consumers must not rely on it before consumption
// begins.
func (s *RowStream) Fields() []Field {
	return s.fields
}

// Row returns the row produced by the latest successful Next
func (s *RowStream) Row() Row {
	return s.row
}

// Err returns the classified error that terminated the stream, if any
func (s *RowStream) Err() error {
	return s.err
}

// Close releases the cursor and hands the owning connection back for the
// next statement
func (s *RowStream) Close() {
	if !s.done {
		s.finish()
	}
}

// finish tears the stream down exactly once: the cursor is closed, a
// deferred wire error is classified, and the connection is released
func (s *RowStream) finish() {
	s.done = true
	s.rows.Close()
	if err := s.rows.Err(); err != nil {
		s.err = mapError(err, s.sql, s.values)
	}
	if s.release != nil {
		s.release()
	}
}
