package trustcore

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// PostgreSQL SQLSTATE codes treated as transient.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
)

// MySQL error numbers treated as transient.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// retryableMessages catches drivers that only expose the condition in the message.
var retryableMessages = []string{
	"deadlock",
	"could not serialize",
	"serialization failure",
	"lock wait timeout",
	"database is locked",
	"database table is locked",
	"could not complete",
	"timed out",
}

// IsRetryable reports whether err is a transient conflict worth another
// transaction attempt: deadlocks, serialization conflicts, lock-wait timeouts,
// attempt timeouts and "could not complete" storage errors. Cancellation of
// the caller's context is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransactionTimeout) || errors.Is(err, ErrTransient) {
		return true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return true
		}
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
			return true
		}
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
