package domain

import "errors"

var (
	// ErrNotFound is returned by store lookups that find no matching row.
	ErrNotFound = errors.New("not found")
	// ErrUnknownStrategy is returned when a signal names a strategy that is
	// not present in configuration.
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrNotTradable describes a symbol the asset catalogue rejects for the
	// requested direction. Catalogue.CheckIfTradable reports that case as a
	// bool; no function in this module returns this error.
	ErrNotTradable = errors.New("symbol not tradable in requested direction")
	// ErrLockerNotFound is returned when a locker operation names an unknown
	// local_id.
	ErrLockerNotFound = errors.New("locker not found")
	// ErrTransactionActive is returned when a second Active transaction is
	// attempted for a symbol that already has one.
	ErrTransactionActive = errors.New("symbol already has an active transaction")
	// ErrShutdown describes work refused because the shutdown token has been
	// cancelled. The connectors report cancellation through the context's own
	// error; no function in this module returns this error.
	ErrShutdown = errors.New("shutdown in progress")
)
