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
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	inputs := []struct {
		Name  string
		Code  string
		Msg   string
		Check func(t *testing.T, err error)
	}{
		{
			Name: "invalid input",
			Code: "22P02",
			Msg:  `invalid input syntax for type integer: "foo"`,
			Check: func(t *testing.T, err error) {
				var target *InvalidInputError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, `invalid input syntax for type integer: "foo"`, target.Error())
			},
		},
		{
			Name: "backend terminated",
			Code: "57P01",
			Msg:  "terminating connection due to administrator command",
			Check: func(t *testing.T, err error) {
				var target *BackendTerminatedError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			Name: "statement cancelled by user",
			Code: "57014",
			Msg:  "canceling statement due to user request",
			Check: func(t *testing.T, err error) {
				var target *StatementCancelledError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			Name: "statement timed out",
			Code: "57014",
			Msg:  "canceling statement due to statement timeout",
			Check: func(t *testing.T, err error) {
				var target *StatementTimeoutError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			Name: "not-null violation",
			Code: "23502",
			Msg:  `null value in column "name" violates not-null constraint`,
			Check: func(t *testing.T, err error) {
				var target *NotNullViolationError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			Name: "foreign-key violation",
			Code: "23503",
			Msg:  `insert or update on table "orders" violates foreign key constraint`,
			Check: func(t *testing.T, err error) {
				var target *ForeignKeyViolationError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			Name: "unique violation",
			Code: "23505",
			Msg:  `duplicate key value violates unique constraint "users_email_key"`,
			Check: func(t *testing.T, err error) {
				var target *UniqueViolationError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			Name: "check violation",
			Code: "23514",
			Msg:  `new row for relation "items" violates check constraint`,
			Check: func(t *testing.T, err error) {
				var target *CheckViolationError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			Name: "input syntax",
			Code: "42601",
			Msg:  `syntax error at or near "SELEC"`,
			Check: func(t *testing.T, err error) {
				var target *InputSyntaxError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "SELEC 1", target.SQL)
				assert.Equal(t, []any{42}, target.Values)
			},
		},
	}

	for _, input := range inputs {
		t.Run(input.Name, func(t *testing.T) {
			raw := &pgconn.PgError{Code: input.Code, Message: input.Msg}

			mapped := mapError(raw, "SELEC 1", []any{42})
			input.Check(t, mapped)

			// every mapped wire kind keeps the raw error as its cause
			var cause *pgconn.PgError
			require.ErrorAs(t, mapped, &cause)
			assert.Equal(t, raw, cause)
		})
	}
}

func TestMapErrorWrappedCause(t *testing.T) {
	raw := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	wrapped := fmt.Errorf("exec failed: %w", raw)

	var target *UniqueViolationError
	require.ErrorAs(t, mapError(wrapped, "INSERT", nil), &target)
}

func TestIntegrityViolationsShareBase(t *testing.T) {
	for _, code := range []string{"23502", "23503", "23505", "23514"} {
		err := mapError(&pgconn.PgError{Code: code, Message: "violated"}, "INSERT INTO t DEFAULT VALUES", nil)

		var base *IntegrityConstraintViolationError
		require.ErrorAs(t, err, &base, "code %s", code)
		assert.Contains(t, base.Error(), "integrity constraint", "code %s", code)
	}
}

func TestMapErrorPassthrough(t *testing.T) {
	inputs := []struct {
		Name string
		Err  error
	}{
		{
			Name: "no code field",
			Err:  errors.New("connection reset by peer"),
		},
		{
			Name: "unknown code",
			Err:  &pgconn.PgError{Code: "XX000", Message: "internal error"},
		},
	}

	for _, input := range inputs {
		t.Run(input.Name, func(t *testing.T) {
			mapped := mapError(input.Err, "SELECT 1", nil)
			assert.Equal(t, input.Err, mapped)
		})
	}
}

func TestShapeErrorsCarryNoCause(t *testing.T) {
	notFound := &NotFoundError{QueryID: "id-1"}
	assert.Nil(t, errors.Unwrap(notFound))
	assert.Equal(t, "resource not found", notFound.Error())

	integrity := &DataIntegrityError{QueryID: "id-2", message: "query returned more than one row"}
	assert.Nil(t, errors.Unwrap(integrity))
	assert.Equal(t, "query returned more than one row", integrity.Error())
}
