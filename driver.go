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
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/singleflight"
)

// ErrNotConnected is returned when Query, Stream or End run on a
// connection that has not been opened with Connect
var ErrNotConnected = errors.New("connection is not open")

// NoticeEvent carries one informational message asynchronously emitted by
// the backend during a session
type NoticeEvent struct {
	Message string
}

// Events is a set of hooks called for out-of-band driver events. Any
// particular hook may be nil. Hooks may be called concurrently from
// different connections.
type Events struct {
	// Notice is called for every backend notice with a non-empty message
	Notice func(NoticeEvent)
}

// wireConn is the part of the underlying wire-protocol client the driver
// adapter depends on
type wireConn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

var _ wireConn = (*pgx.Conn)(nil)

// Driver builds connections for a single client configuration. It owns the
// memoized type-parser resolution shared by every connection it builds.
type Driver struct {
	connConfig *pgx.ConnConfig
	parsers    []TypeParser
	events     Events

	group    singleflight.Group
	registry atomic.Pointer[typeRegistry]
}

// DriverOption is a functional option type for NewDriver
type DriverOption func(*Driver)

// WithEvents sets hooks for out-of-band driver events
func WithEvents(events Events) DriverOption {
	return func(d *Driver) {
		d.events = events
	}
}

// NewDriver validates the client configuration and returns a driver
// factory for it
func NewDriver(cfg ClientConfig, opts ...DriverOption) (*Driver, error) {
	connConfig, err := driverConfig(cfg)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		connConfig: connConfig,
		parsers:    cfg.TypeParsers,
	}

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Connection returns a builder for one connection. Connect must succeed
// before Query or Stream; End releases the underlying client. Callers own
// the Connect/End pairing on every exit path.
func (d *Driver) Connection() *DriverConnection {
	return &DriverConnection{driver: d}
}

// typeRegistryFor resolves type parsers at most once per driver. Racing
// first users share a single in-flight resolution; a failed resolution is
// not cached, so callers observe it as their own bring-up failure.
func (d *Driver) typeRegistryFor(ctx context.Context, conn wireConn) (*typeRegistry, error) {
	if r := d.registry.Load(); r != nil {
		return r, nil
	}

	v, err, _ := d.group.Do("type-parsers", func() (any, error) {
		if r := d.registry.Load(); r != nil {
			return r, nil
		}

		r, err := resolveTypeParsers(ctx, conn, d.parsers)
		if err != nil {
			return nil, err
		}

		d.registry.Store(r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*typeRegistry), nil
}

// DriverConnection adapts one underlying client to the abstract connection
// contract. Statements on one connection run strictly one at a time; an
// open stream keeps the connection busy until it is exhausted or closed.
type DriverConnection struct {
	driver *Driver

	mu       sync.Mutex
	conn     wireConn
	registry *typeRegistry
}

var _ Connection = (*DriverConnection)(nil)

// Connect opens the underlying client and performs type-parser bring-up.
// Bring-up failure is fatal to the connection: the client is closed and
// the error returned.
func (c *DriverConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("connection is already open")
	}

	cc := c.driver.connConfig.Copy()
	cc.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		c.forwardNotice(n)
	}

	conn, err := pgx.ConnectConfig(ctx, cc)
	if err != nil {
		return mapError(err, "", nil)
	}

	registry, err := c.driver.typeRegistryFor(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return err
	}

	c.conn = conn
	c.registry = registry
	return nil
}

// End closes the underlying client. The notice forwarder is registered on
// the client configuration and is released with it.
func (c *DriverConnection) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	err := c.conn.Close(ctx)
	c.conn = nil
	c.registry = nil
	return err
}

// Query runs a single statement and returns its fully materialized result.
// Raw backend errors are classified into the client taxonomy together with
// the originating statement.
func (c *DriverConnection) Query(ctx context.Context, sql string, values ...any) (*QueryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	rows, err := c.queryText(ctx, sql, values)
	if err != nil {
		return nil, mapError(err, sql, values)
	}
	defer rows.Close()

	var (
		fields []Field
		out    []Row
	)
	for rows.Next() {
		if fields == nil {
			fields = fieldsOf(rows.FieldDescriptions())
		}

		row, err := c.registry.decodeRow(fields, rows.RawValues())
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, sql, values)
	}
	if fields == nil {
		fields = fieldsOf(rows.FieldDescriptions())
	}

	rows.Close()
	tag := rows.CommandTag()

	return &QueryResult{
		Command:  commandFromTag(tag),
		Fields:   fields,
		RowCount: tag.RowsAffected(),
		Rows:     out,
	}, nil
}

// queryText forces text-format results so installed type parsers always
// see the canonical backend representation
func (c *DriverConnection) queryText(ctx context.Context, sql string, values []any) (pgx.Rows, error) {
	args := make([]any, 0, len(values)+1)
	args = append(args, pgx.QueryResultFormats{pgtype.TextFormatCode})
	args = append(args, values...)
	return c.conn.Query(ctx, sql, args...)
}

// forwardNotice relays one backend notice to the event hooks. Notices with
// empty messages are dropped.
func (c *DriverConnection) forwardNotice(n *pgconn.Notice) {
	if n == nil || n.Message == "" {
		return
	}
	if notice := c.driver.events.Notice; notice != nil {
		notice(NoticeEvent{Message: n.Message})
	}
}

// fieldsOf copies the driver's row description into Fields
func fieldsOf(descs []pgconn.FieldDescription) []Field {
	if len(descs) == 0 {
		return nil
	}

	fields := make([]Field, len(descs))
	for i, d := range descs {
		fields[i] = Field{Name: d.Name, DataTypeOID: d.DataTypeOID}
	}
	return fields
}
