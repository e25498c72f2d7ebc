package entities

import "fmt"

// InputError signals that a caller-supplied account batch or parameter is
// invalid for the requested operation. It is always raised before any shared
// state is touched and is never retried.
type InputError struct {
	msg string
}

// NewInputError creates a new input error.
func NewInputError(msg string) *InputError {
	return &InputError{msg: msg}
}

func (e *InputError) Error() string {
	return e.msg
}

// RemoteError signals a failure of an external data source (explorer, node,
// oracle). The aggregator surfaces it to the immediate caller and never
// retries on its own.
type RemoteError struct {
	msg string
	err error
}

// NewRemoteError creates a remote error with an optional wrapped cause.
func NewRemoteError(msg string, err error) *RemoteError {
	return &RemoteError{msg: msg, err: err}
}

func (e *RemoteError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *RemoteError) Unwrap() error {
	return e.err
}

// EthSyncError is the specialization of remote failure meaning the node
// responded but is not synced. Callers distinguish it from RemoteError to
// advise the user differently.
type EthSyncError struct {
	msg string
}

// NewEthSyncError creates a new sync error.
func NewEthSyncError(msg string) *EthSyncError {
	return &EthSyncError{msg: msg}
}

func (e *EthSyncError) Error() string {
	return e.msg
}

// ModuleInactiveError signals a protocol-specific operation was requested
// while the module is not activated.
type ModuleInactiveError struct {
	Module string
}

// NewModuleInactiveError creates a module-inactive error.
func NewModuleInactiveError(module string) *ModuleInactiveError {
	return &ModuleInactiveError{Module: module}
}

func (e *ModuleInactiveError) Error() string {
	return fmt.Sprintf("%s module is not active", e.Module)
}
