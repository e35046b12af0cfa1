// Package ledger records the trades produced by replaying a strategy over one
// symbol's bars. A Ledger accepts buy and sell signals one at a time, keeps
// at most one trade open, and force-closes a trade left open when the bar
// stream ends.
package ledger

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a Trade. Closed and ForceClosed are
// terminal.
type Status int

const (
	StatusOpen Status = iota
	StatusClosed
	StatusForceClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusForceClosed:
		return "assumed closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its String form.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the String form of a status.
func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{StatusOpen, StatusClosed, StatusForceClosed} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown trade status %q", b)
}

// Entry is the buy side of a trade.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Qty       int64     `json:"qty"`
	Cost      float64   `json:"cost"` // Price * Qty, rounded to cents
}

// Exit is the sell side of a trade.
type Exit struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Revenue   float64   `json:"revenue"`
}

// Profit is the realised result of a closed trade.
type Profit struct {
	Amt float64 `json:"amt"`
	Pct float64 `json:"pct"`
}

// Stats holds derived per-trade figures.
type Stats struct {
	TimeHeld float64 `json:"time_held"` // minutes
}

// Trade is one round trip. Sell, Profit and Stats are nil while the trade is
// open.
type Trade struct {
	Symbol string  `json:"symbol"`
	Status Status  `json:"status"`
	Buy    Entry   `json:"buy"`
	Sell   *Exit   `json:"sell"`
	Profit *Profit `json:"profit"`
	Stats  *Stats  `json:"stats"`
}

// IsOpen reports whether the trade is still waiting for a sell.
func (t Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// AssumedClosed reports whether the trade was closed by reconciliation at the
// end of the data rather than by a sell signal.
func (t Trade) AssumedClosed() bool {
	return t.Status == StatusForceClosed
}

// clone returns a deep copy so callers never share pointers with the ledger.
func (t Trade) clone() Trade {
	c := t
	if t.Sell != nil {
		s := *t.Sell
		c.Sell = &s
	}
	if t.Profit != nil {
		p := *t.Profit
		c.Profit = &p
	}
	if t.Stats != nil {
		st := *t.Stats
		c.Stats = &st
	}
	return c
}
