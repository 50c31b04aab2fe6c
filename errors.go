package trustcore

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Store when the requested key is not cached.
var ErrNotFound = errors.New("trustcore: requested key not found")

// Additional package-level errors
var (
	// ErrTransient marks an error as safe to retry inside RunTransaction.
	ErrTransient = errors.New("trustcore: transient storage error")
	// ErrTransactionTimeout is reported when an attempt outlives its timeout.
	ErrTransactionTimeout = errors.New("trustcore: transaction attempt timed out")
	// ErrTransactionFailed is wrapped by TransactionError once retries are exhausted.
	ErrTransactionFailed = errors.New("trustcore: transaction failed")
	ErrDatabaseNotSet    = errors.New("trustcore: database not set")
	ErrStoreNotSet       = errors.New("trustcore: cache store not set")
	ErrNilLoader         = errors.New("trustcore: loader must be non-nil")
	ErrInvalidFilter     = errors.New("trustcore: invalid filter expression")
	ErrPoolClosed        = errors.New("trustcore: pool guard closed")
)

// TransactionError reports a transaction that kept failing after all attempts.
type TransactionError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *TransactionError) Error() string {
	name := e.Name
	if name == "" {
		name = "transaction"
	}
	return fmt.Sprintf("trustcore: %s failed after %d attempt(s): %v", name, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the last underlying error to errors.Is/As.
func (e *TransactionError) Unwrap() []error {
	return []error{ErrTransactionFailed, e.Err}
}
