package repository

import (
	"errors"
	"fmt"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// MySQL and Postgres error codes the store translates.
const (
	mysqlDeadlock      = 1213
	mysqlLockTimeout   = 1205
	mysqlDuplicateKey  = 1062
	pgSerialization    = "40001"
	pgDeadlock         = "40P01"
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

// classifyError maps driver errors onto the engine's sentinels. Errors that
// already carry a sentinel pass through untouched.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", entitlements.ErrNotFound, err)
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %v", entitlements.ErrConcurrencyConflict, err)
	}
	return err
}

func isConflict(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockTimeout
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerialization, pgDeadlock, pgLockNotAvailable:
			return true
		}
	}
	return false
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
