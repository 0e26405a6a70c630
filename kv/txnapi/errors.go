package txnapi

import (
	"fmt"

	"github.com/pingcap/errors"
)

// Error is an error surfaced by the store. Codes follow the FoundationDB error numbering so adapters can pass them
// through unchanged.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Msg, e.Code)
}

var (
	ErrTransactionTooOld    = &Error{Code: 1007, Msg: "transaction is too old to perform reads or be committed"}
	ErrFutureVersion        = &Error{Code: 1009, Msg: "request for future version"}
	ErrNotCommitted         = &Error{Code: 1020, Msg: "transaction not committed due to conflict with another transaction"}
	ErrCommitUnknownResult  = &Error{Code: 1021, Msg: "transaction may or may not have committed"}
	ErrProcessBehind        = &Error{Code: 1037, Msg: "storage process does not have recent mutations"}
	ErrUsedDuringCommit     = &Error{Code: 2017, Msg: "operation issued while a commit was outstanding"}
	ErrKeyOutsideLegalRange = &Error{Code: 2004, Msg: "key outside legal range"}
	ErrInvertedRange        = &Error{Code: 2005, Msg: "range begin key larger than end key"}
	ErrInvalidOption        = &Error{Code: 2007, Msg: "option not valid in this context"}
)

// retryable are the codes OnError recovers from by backing off and resetting.
var retryable = map[int]struct{}{
	ErrTransactionTooOld.Code:   {},
	ErrFutureVersion.Code:       {},
	ErrNotCommitted.Code:        {},
	ErrCommitUnknownResult.Code: {},
	ErrProcessBehind.Code:       {},
}

// NewError returns an *Error for code. Known codes reuse their canonical message.
func NewError(code int, msg string) *Error {
	for _, e := range []*Error{ErrTransactionTooOld, ErrFutureVersion, ErrNotCommitted, ErrCommitUnknownResult,
		ErrProcessBehind, ErrUsedDuringCommit, ErrKeyOutsideLegalRange, ErrInvertedRange, ErrInvalidOption} {
		if e.Code == code {
			return e
		}
	}
	return &Error{Code: code, Msg: msg}
}

// Code extracts the store error code from err, or 0 if err does not wrap an *Error.
func Code(err error) int {
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Code
	}
	return 0
}

// IsNotCommitted returns true if err is the conflict signal.
func IsNotCommitted(err error) bool {
	return Code(err) == ErrNotCommitted.Code
}

// IsRetryable returns true if OnError recovers from err.
func IsRetryable(err error) bool {
	_, ok := retryable[Code(err)]
	return ok
}
