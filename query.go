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
)

// Connection describes the abstract query surface the shape methods run
// on. DriverConnection satisfies it; pool supervisors hand out values of
// this interface.
type Connection interface {
	Query(ctx context.Context, sql string, values ...any) (*QueryResult, error)
}

// QueryOption is a functional option type for the shape methods
type QueryOption func(*queryOptions)

type queryOptions struct {
	queryID QueryID
	logger  *slog.Logger
}

// WithQueryID makes the call inherit an existing query id instead of
// generating a fresh one
func WithQueryID(id QueryID) QueryOption {
	return func(o *queryOptions) {
		o.queryID = id
	}
}

// WithLogger sets the sink for records emitted on shape violations
func WithLogger(logger *slog.Logger) QueryOption {
	return func(o *queryOptions) {
		o.logger = logger
	}
}

func applyQueryOptions(opts []QueryOption) queryOptions {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	o.queryID = orNewQueryID(o.queryID)
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// logShapeError records a shape violation before it is raised, tagged with
// the query id so callers can correlate logs to returned errors
func (o queryOptions) logShapeError(label string) {
	o.logger.Error(label, slog.String("queryId", string(o.queryID)))
}

// run executes the base query every shape method is built on. Driver
// errors propagate unchanged; shape contracts are layered on top by the
// callers.
func run(ctx context.Context, conn Connection, sql string, values []any, opts []QueryOption) (*QueryResult, queryOptions, error) {
	o := applyQueryOptions(opts)

	res, err := conn.Query(ctx, sql, values...)
	if err != nil {
		return nil, o, err
	}
	return res, o, nil
}

// firstColumnValues projects the result onto its first column, enforcing
// the single-column contract of the *First methods. Column order follows
// the driver's row description, never map iteration order, and the count
// is checked once for the whole result.
func firstColumnValues(o queryOptions, res *QueryResult) ([]any, error) {
	if len(res.Fields) == 0 {
		o.logShapeError("result row has no columns")
		return nil, &DataIntegrityError{QueryID: o.queryID, message: "result row has no columns"}
	}
	if len(res.Fields) != 1 {
		o.logShapeError("DataIntegrityError")
		return nil, &DataIntegrityError{
			QueryID: o.queryID,
			message: fmt.Sprintf("query returned rows with %d columns where exactly one is expected", len(res.Fields)),
		}
	}

	name := res.Fields[0].Name
	values := make([]any, len(res.Rows))
	for i, row := range res.Rows {
		values[i] = row[name]
	}
	return values, nil
}

// Query runs the statement and returns the raw result with no shape
// contract applied
func Query(ctx context.Context, conn Connection, sql string, values []any, opts ...QueryOption) (*QueryResult, error) {
	res, _, err := run(ctx, conn, sql, values, opts)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Any returns all result rows. An empty result is not an error.
func Any(ctx context.Context, conn Connection, sql string, values []any, opts ...QueryOption) ([]Row, error) {
	res, _, err := run(ctx, conn, sql, values, opts)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Many returns all result rows and requires at least one
func Many(ctx context.Context, conn Connection, sql string, values []any, opts ...QueryOption) ([]Row, error) {
	res, o, err := run(ctx, conn, sql, values, opts)
	if err != nil {
		return nil, err
	}

	if len(res.Rows) == 0 {
		o.logShapeError("NotFoundError")
		return nil, &NotFoundError{QueryID: o.queryID}
	}
	return res.Rows, nil
}

// MaybeOne returns the only row of the result, or nil for an empty result
func MaybeOne(ctx context.Context, conn Connection, sql string, values []any, opts ...QueryOption) (Row, error) {
	res, o, err := run(ctx, conn, sql, values, opts)
	if err != nil {
		return nil, err
	}

	switch len(res.Rows) {
	case 0:
		return nil, nil
	case 1:
		return res.Rows[0], nil
	}

	o.logShapeError("DataIntegrityError")
	return nil, &DataIntegrityError{QueryID: o.queryID, message: "query returned more than one row"}
}

// One returns the only row of the result and requires exactly one
func One(ctx context.Context, conn Connection, sql string, values []any, opts ...QueryOption) (Row, error) {
	res, o, err := run(ctx, conn, sql, values, opts)
	if err != nil {
		return nil, err
	}

	switch len(res.Rows) {
	case 0:
		o.logShapeError("NotFoundError")
		return nil, &NotFoundError{QueryID: o.queryID}
	case 1:
		return res.Rows[0], nil
	}

	o.logShapeError("DataIntegrityError")
	return nil, &DataIntegrityError{QueryID: o.queryID, message: "query returned more than one row"}
}

// AnyFirst returns the first column of every result row. A result with
// any rows at all must carry exactly one column.
func AnyFirst(ctx context.Context, conn Connection, sql string, values []any, opts ...QueryOption) ([]any, error) {
	res, o, err := run(ctx, conn, sql, values, opts)
	if err != nil {
		return nil, err
	}

	if len(res.Rows) == 0 {
		return nil, nil
	}
	return firstColumnValues(o, res)
}

// ManyFirst returns the first column of every result row and requires at
// least one row
func ManyFirst(ctx context.Context, conn Connection, sql string, values []any, opts ...QueryOption) ([]any, error) {
	res, o, err := run(ctx, conn, sql, values, opts)
	if err != nil {
		return nil, err
	}

	if len(res.Rows) == 0 {
		o.logShapeError("NotFoundError")
		return nil, &NotFoundError{QueryID: o.queryID}
	}
	return firstColumnValues(o, res)
}

// MaybeOneFirst returns the single value of a one-row one-column result,
// or nil for an empty result
func MaybeOneFirst(ctx context.Context, conn Connection, sql string, values []any, opts ...QueryOption) (any, error) {
	res, o, err := run(ctx, conn, sql, values, opts)
	if err != nil {
		return nil, err
	}

	switch len(res.Rows) {
	case 0:
		return nil, nil
	case 1:
		first, err := firstColumnValues(o, res)
		if err != nil {
			return nil, err
		}
		return first[0], nil
	}

	o.logShapeError("DataIntegrityError")
	return nil, &DataIntegrityError{QueryID: o.queryID, message: "query returned more than one row"}
}

// OneFirst returns the single value of a result that must have exactly one
// row and exactly one column
func OneFirst(ctx context.Context, conn Connection, sql string, values []any, opts ...QueryOption) (any, error) {
	res, o, err := run(ctx, conn, sql, values, opts)
	if err != nil {
		return nil, err
	}

	switch len(res.Rows) {
	case 0:
		o.logShapeError("NotFoundError")
		return nil, &NotFoundError{QueryID: o.queryID}
	case 1:
		first, err := firstColumnValues(o, res)
		if err != nil {
			return nil, err
		}
		return first[0], nil
	}

	o.logShapeError("DataIntegrityError")
	return nil, &DataIntegrityError{QueryID: o.queryID, message: "query returned more than one row"}
}
