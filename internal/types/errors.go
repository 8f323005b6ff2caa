package types

import "errors"

// Domain-invalid errors. These abort the current trader with END; they must
// never propagate beyond the trading manager.
var (
	ErrNonPositivePrice     = errors.New("non-positive price")
	ErrInsufficientBalance  = errors.New("insufficient free balance")
	ErrQuantityMismatch     = errors.New("quantity mismatch between venues exceeds tolerance")
	ErrQuantityBelowMinimum = errors.New("quantity below venue minimum after snapping")
	ErrDirectionStale       = errors.New("signal direction no longer matches current spread")
	ErrSymbolNotTradable    = errors.New("symbol not tradable on venue (non-perpetual or delisted)")
)

// ErrCancelUnresolved indicates a cancel could not be confirmed terminal
// by any follow-up fetch; the trader escalates (logs) and proceeds with
// whatever fills the venue reports.
var ErrCancelUnresolved = errors.New("cancel result could not be resolved to a terminal order state")
