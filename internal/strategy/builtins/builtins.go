package builtins

import "tradelab/internal/strategy"

// Settings holds the tunable parameters of the bundled strategies.
type Settings struct {
	SMAShort int
	SMALong  int

	RSIPeriod int
	RSILow    float64
	RSIHigh   float64
}

// DefaultSettings returns the parameters used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		SMAShort:  10,
		SMALong:   30,
		RSIPeriod: 14,
		RSILow:    30,
		RSIHigh:   70,
	}
}

// Register adds every bundled strategy to r. Zero fields in s take their
// default values.
func Register(r *strategy.Registry, s Settings) {
	d := DefaultSettings()
	if s.SMAShort == 0 {
		s.SMAShort = d.SMAShort
	}
	if s.SMALong == 0 {
		s.SMALong = d.SMALong
	}
	if s.RSIPeriod == 0 {
		s.RSIPeriod = d.RSIPeriod
	}
	if s.RSILow == 0 && s.RSIHigh == 0 {
		s.RSILow, s.RSIHigh = d.RSILow, d.RSIHigh
	}

	r.Register(func() strategy.Strategy { return NewSMACross(s.SMAShort, s.SMALong) })
	r.Register(func() strategy.Strategy { return NewRSI(s.RSIPeriod, s.RSILow, s.RSIHigh) })
}

// NewRegistry returns a registry holding the bundled strategies.
func NewRegistry(s Settings) *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r, s)
	return r
}
