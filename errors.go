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
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Backend SQLSTATE codes recognized by the error mapper
const (
	codeInvalidTextRepresentation = "22P02"
	codeNotNullViolation          = "23502"
	codeForeignKeyViolation       = "23503"
	codeUniqueViolation           = "23505"
	codeCheckViolation            = "23514"
	codeSyntaxError               = "42601"
	codeQueryCanceled             = "57014"
	codeAdminShutdown             = "57P01"
)

// cancelRequestFragment distinguishes a user requested cancel from a
// statement timeout. The backend reports both under SQLSTATE 57014 and
// only the message tells them apart.
const cancelRequestFragment = "canceling statement due to user request"

// InvalidInputError reports a parameter value the backend rejected
type InvalidInputError struct {
	message string
	cause   error
}

// Error implements `error` interface
func (e *InvalidInputError) Error() string {
	return e.message
}

// Unwrap returns the raw backend error
func (e *InvalidInputError) Unwrap() error {
	return e.cause
}

// BackendTerminatedError reports a backend session that died unexpectedly
type BackendTerminatedError struct {
	cause error
}

// Error implements `error` interface
func (e *BackendTerminatedError) Error() string {
	return "backend has been terminated"
}

// Unwrap returns the raw backend error
func (e *BackendTerminatedError) Unwrap() error {
	return e.cause
}

// StatementCancelledError reports a statement cancelled by user request
type StatementCancelledError struct {
	cause error
}

// Error implements `error` interface
func (e *StatementCancelledError) Error() string {
	return "statement has been cancelled"
}

// Unwrap returns the raw backend error
func (e *StatementCancelledError) Unwrap() error {
	return e.cause
}

// StatementTimeoutError reports a statement that exceeded its allotted time
type StatementTimeoutError struct {
	cause error
}

// Error implements `error` interface
func (e *StatementTimeoutError) Error() string {
	return "statement has timed out"
}

// Unwrap returns the raw backend error
func (e *StatementTimeoutError) Unwrap() error {
	return e.cause
}

// IntegrityConstraintViolationError is the common form of the four
// constraint violation kinds. The concrete kinds embed it and expose it
// through their Unwrap chain, so a single errors.As against this type
// matches any of them.
type IntegrityConstraintViolationError struct {
	message string
	cause   error
}

// Error implements `error` interface
func (e *IntegrityConstraintViolationError) Error() string {
	return e.message
}

// Unwrap returns the raw backend error
func (e *IntegrityConstraintViolationError) Unwrap() error {
	return e.cause
}

func integrityViolation(message string, cause error) IntegrityConstraintViolationError {
	return IntegrityConstraintViolationError{message: message, cause: cause}
}

// NotNullViolationError reports a violated not-null integrity constraint
type NotNullViolationError struct {
	IntegrityConstraintViolationError
}

// Unwrap returns the common integrity violation form
func (e *NotNullViolationError) Unwrap() error {
	return &e.IntegrityConstraintViolationError
}

// ForeignKeyViolationError reports a violated foreign-key integrity constraint
type ForeignKeyViolationError struct {
	IntegrityConstraintViolationError
}

// Unwrap returns the common integrity violation form
func (e *ForeignKeyViolationError) Unwrap() error {
	return &e.IntegrityConstraintViolationError
}

// UniqueViolationError reports a violated unique integrity constraint
type UniqueViolationError struct {
	IntegrityConstraintViolationError
}

// Unwrap returns the common integrity violation form
func (e *UniqueViolationError) Unwrap() error {
	return &e.IntegrityConstraintViolationError
}

// CheckViolationError reports a violated check integrity constraint
type CheckViolationError struct {
	IntegrityConstraintViolationError
}

// Unwrap returns the common integrity violation form
func (e *CheckViolationError) Unwrap() error {
	return &e.IntegrityConstraintViolationError
}

// InputSyntaxError reports a statement the backend could not parse. It
// carries the offending statement together with its parameter values.
type InputSyntaxError struct {
	SQL    string
	Values []any

	cause error
}

// Error implements `error` interface
func (e *InputSyntaxError) Error() string {
	if e.cause == nil {
		return "syntax error"
	}
	return e.cause.Error()
}

// Unwrap returns the raw backend error
func (e *InputSyntaxError) Unwrap() error {
	return e.cause
}

// NotFoundError is returned by shape methods that require at least one row
// when the result contains none. It carries no cause; the logged query id
// correlates it with the originating call.
type NotFoundError struct {
	QueryID QueryID
}

// Error implements `error` interface
func (e *NotFoundError) Error() string {
	return "resource not found"
}

// DataIntegrityError is returned when the row or column cardinality of a
// result violates the contract of the shape method that ran the query.
type DataIntegrityError struct {
	QueryID QueryID

	message string
}

// Error implements `error` interface
func (e *DataIntegrityError) Error() string {
	return e.message
}

// mapError classifies a raw backend error into the client taxonomy,
// keeping the originating statement as context where the kind carries one.
// Errors without a SQLSTATE code, and codes outside the recognized set,
// pass through unchanged.
func mapError(err error, sql string, values []any) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeInvalidTextRepresentation:
		return &InvalidInputError{message: pgErr.Message, cause: pgErr}
	case codeAdminShutdown:
		return &BackendTerminatedError{cause: pgErr}
	case codeQueryCanceled:
		if strings.Contains(pgErr.Message, cancelRequestFragment) {
			return &StatementCancelledError{cause: pgErr}
		}
		return &StatementTimeoutError{cause: pgErr}
	case codeNotNullViolation:
		return &NotNullViolationError{integrityViolation("query violates a not-null integrity constraint", pgErr)}
	case codeForeignKeyViolation:
		return &ForeignKeyViolationError{integrityViolation("query violates a foreign-key integrity constraint", pgErr)}
	case codeUniqueViolation:
		return &UniqueViolationError{integrityViolation("query violates a unique integrity constraint", pgErr)}
	case codeCheckViolation:
		return &CheckViolationError{integrityViolation("query violates a check integrity constraint", pgErr)}
	case codeSyntaxError:
		return &InputSyntaxError{SQL: sql, Values: values, cause: pgErr}
	}

	return err
}
