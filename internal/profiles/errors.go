package profiles

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicateUser indicates the profile was already ingested.
	ErrDuplicateUser = errors.New("profiles: duplicate user")
	// ErrInvalidColumn indicates a field match on a column outside the allow-list.
	ErrInvalidColumn = errors.New("profiles: invalid search column")
	// ErrInvalidValue indicates a field match value that cannot be bound to its column.
	ErrInvalidValue = errors.New("profiles: invalid search value")
	// ErrEmptyLanguageSet indicates a language search without any usable name.
	ErrEmptyLanguageSet = errors.New("profiles: empty language set")

	errMissingDatabase = errors.New("database handle is required")
)

const pgUniqueViolation = "23505"

// ServiceError reports a store failure together with the operation that hit it.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// uniqueConstraint names a unique index both the way Postgres reports it and the
// way SQLite does (table.column).
type uniqueConstraint struct {
	name   string
	column string
}

var duplicateUserConstraints = []uniqueConstraint{
	{name: "users_external_id_key", column: tableUsers + "." + columnExternalID},
	{name: "users_username_key", column: tableUsers + "." + columnUsername},
}

// duplicateUserConstraint returns the user identity constraint violated by err, if any.
func duplicateUserConstraint(err error) (uniqueConstraint, bool) {
	for _, constraint := range duplicateUserConstraints {
		if violatesUnique(err, constraint) {
			return constraint, true
		}
	}
	return uniqueConstraint{}, false
}

func violatesUnique(err error, constraint uniqueConstraint) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && strings.EqualFold(pgErr.ConstraintName, constraint.name)
	}

	// sqlite: "UNIQUE constraint failed: users.external_id"
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") && strings.Contains(message, constraint.column)
}
