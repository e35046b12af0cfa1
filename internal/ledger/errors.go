package ledger

import (
	"errors"
	"fmt"
	"time"

	"tradelab/internal/domain"
)

// ErrProtocolViolation is wrapped by every error caused by a signal that the
// ledger's state cannot accept.
var ErrProtocolViolation = errors.New("signal protocol violation")

var (
	ErrNoOpenTrade      = fmt.Errorf("%w: sell with no open trade", ErrProtocolViolation)
	ErrTradeAlreadyOpen = fmt.Errorf("%w: buy while a trade is open", ErrProtocolViolation)
	ErrInvalidSignal    = fmt.Errorf("%w: unknown signal type", ErrProtocolViolation)
	ErrSymbolMismatch   = fmt.Errorf("%w: signal for another symbol", ErrProtocolViolation)
	ErrOutOfOrder       = fmt.Errorf("%w: signal older than last trade event", ErrProtocolViolation)
)

var (
	// ErrInvalidPrice is returned for a buy on a close that is not a positive
	// finite number, or a sell on one that is negative or not finite.
	ErrInvalidPrice = errors.New("invalid close price")

	// ErrInvalidCapital is returned for a buy on a ledger created with a
	// negative or non-finite capital.
	ErrInvalidCapital = errors.New("invalid capital")
)

// ProtocolError carries the symbol and bar time of a rejected signal.
type ProtocolError struct {
	Symbol    string
	Timestamp time.Time
	Type      domain.SignalType
	Err       error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s %s at %s: %v", e.Symbol, e.Type,
		e.Timestamp.UTC().Format(time.RFC3339), e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
