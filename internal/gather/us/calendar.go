package us

import (
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// calendarClient is the subset of *alpaca.Client used for trading days.
type calendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// LatestFinishedTradingDay returns the most recent trading day whose market
// session has ended as of now (after 20:05 ET, so extended-hours bars have
// settled), looked up in the Alpaca trading calendar.
func LatestFinishedTradingDay(client calendarClient, now time.Time) (time.Time, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now = now.In(et)

	days, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	return latestFinished(days, now)
}

// latestFinished picks the last calendar day that is over at now, which must
// be in ET.
func latestFinished(days []alpaca.CalendarDay, now time.Time) (time.Time, error) {
	if len(days) == 0 {
		return time.Time{}, errors.New("no trading days returned from calendar")
	}

	today := now.Format(time.DateOnly)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, now.Location())

	for i := len(days) - 1; i >= 0; i-- {
		day := days[i]
		if day.Date == today {
			if now.After(cutoff) {
				return time.Parse(time.DateOnly, day.Date)
			}
			continue
		}
		d, err := time.Parse(time.DateOnly, day.Date)
		if err != nil {
			continue
		}
		if d.Before(now) {
			return d, nil
		}
	}
	return time.Time{}, errors.New("could not determine latest finished trading day")
}
