// Package report renders backtest runs for the terminal and as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/volatiletech/null"

	"tradelab/internal/ledger"
	"tradelab/internal/store"
	"tradelab/internal/summary"
)

// NA is printed for values that are undefined for a trade set.
const NA = "n/a"

// Writer renders runs to an output stream.
type Writer struct {
	out     io.Writer
	verbose bool

	title  lipgloss.Style
	errSty lipgloss.Style
	gain   lipgloss.Style
	loss   lipgloss.Style
	dim    lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
}

// New returns a Writer. In verbose mode every trade is listed before the
// symbol's summary.
func New(out io.Writer, verbose bool) *Writer {
	r := lipgloss.NewRenderer(out)
	return &Writer{
		out:     out,
		verbose: verbose,
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		errSty:  r.NewStyle().Foreground(lipgloss.Color("9")),
		gain:    r.NewStyle().Foreground(lipgloss.Color("10")),
		loss:    r.NewStyle().Foreground(lipgloss.Color("9")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("245")),
		header:  r.NewStyle().Bold(true).Padding(0, 1),
		cell:    r.NewStyle().Padding(0, 1),
	}
}

// Run prints every instrument of run followed by a cross-symbol overview.
func (w *Writer) Run(run *store.Run) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", w.title.Render("Run "+run.ID), w.dim.Render(runParams(run)))

	for _, inst := range run.Instruments {
		b.WriteString("\n")
		b.WriteString(w.title.Render(inst.Symbol))
		fmt.Fprintf(&b, " %s\n", w.dim.Render(fmt.Sprintf("%d bars", inst.Bars)))

		if inst.Err != "" {
			b.WriteString(w.errSty.Render("error: "+inst.Err) + "\n")
			continue
		}
		if w.verbose && len(inst.Trades) > 0 {
			b.WriteString(w.tradeTable(inst.Trades) + "\n")
		}
		if inst.Summary == nil {
			b.WriteString(w.dim.Render("no trades") + "\n")
			continue
		}
		b.WriteString(w.summaryTable(inst.Summary) + "\n")
	}

	if len(run.Instruments) > 1 {
		b.WriteString("\n" + w.overviewTable(run.Instruments) + "\n")
	}

	_, err := io.WriteString(w.out, b.String())
	return err
}

// RunList prints one line per stored run header.
func (w *Writer) RunList(runs []store.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w.out, "no runs")
		return err
	}
	t := w.newTable("ID", "Strategy", "Market", "Capital", "Range", "Started")
	for _, r := range runs {
		t.Row(r.ID, r.Strategy, r.Market, Money(r.Capital), dateRange(r.Begin, r.End),
			r.Started.Local().Format(time.DateTime))
	}
	_, err := fmt.Fprintln(w.out, t.String())
	return err
}

// Strategies prints the registered strategy names.
func (w *Writer) Strategies(names []string) error {
	for _, n := range names {
		if _, err := fmt.Fprintln(w.out, n); err != nil {
			return err
		}
	}
	return nil
}

// JSON writes v as indented JSON. Undefined summary fields encode as null.
func JSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (w *Writer) newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(w.dim).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return w.header
			}
			return w.cell
		})
}

func (w *Writer) tradeTable(trades []ledger.Trade) string {
	t := w.newTable("#", "Buy", "Price", "Qty", "Cost", "Sell", "Price", "Revenue", "Profit", "Profit %", "Held", "")
	for i, tr := range trades {
		row := []string{
			strconv.Itoa(i + 1),
			tr.Buy.Timestamp.Format(time.DateOnly),
			Money(tr.Buy.Price),
			strconv.FormatInt(tr.Buy.Qty, 10),
			Money(tr.Buy.Cost),
			NA, NA, NA, NA, NA, NA,
			"",
		}
		if tr.Sell != nil {
			row[5] = tr.Sell.Timestamp.Format(time.DateOnly)
			row[6] = Money(tr.Sell.Price)
			row[7] = Money(tr.Sell.Revenue)
		}
		if tr.Profit != nil {
			row[8] = w.signed(tr.Profit.Amt, Money(tr.Profit.Amt))
			row[9] = w.signed(tr.Profit.Pct, Money(tr.Profit.Pct))
		}
		if tr.Stats != nil {
			row[10] = Held(tr.Stats.TimeHeld)
		}
		if tr.Status != ledger.StatusClosed {
			row[11] = tr.Status.String()
		}
		t.Row(row...)
	}
	return t.String()
}

func (w *Writer) summaryTable(s *summary.Summary) string {
	t := w.newTable("Metric", "Value")
	rows := [][2]string{
		{"Trades", strconv.Itoa(s.Trades)},
		{"Total profit", w.signed(s.TotalProfitAmt, Money(s.TotalProfitAmt))},
		{"Total profit %", w.signed(s.TotalProfitPct, Money(s.TotalProfitPct))},
		{"Wins", fmt.Sprintf("%d (%s%%)", s.WinCount, Money(s.WinPct))},
		{"Losses", fmt.Sprintf("%d (%s%%)", s.LossCount, Money(s.LossPct))},
		{"Avg win", Optional(s.AvgWinAmt)},
		{"Avg win %", Optional(s.AvgWinPct)},
		{"Avg loss", Optional(s.AvgLossAmt)},
		{"Avg loss %", Optional(s.AvgLossPct)},
		{"Avg time held", Held(s.AvgTimeHeldMinutes)},
		{"Avg trades/day", Optional(s.AvgTradesPerDay)},
		{"Buy & hold qty", Optional(s.BuyHoldQty)},
		{"Buy & hold profit", w.optionalSigned(s.BuyHoldAmt, 1)},
		{"Buy & hold %", w.optionalSigned(s.BuyHoldPct, 100)},
	}
	if s.ForceClosed > 0 {
		rows = append(rows, [2]string{"Assumed closed", strconv.Itoa(s.ForceClosed)})
	}
	for _, r := range rows {
		t.Row(r[0], r[1])
	}
	return t.String()
}

func (w *Writer) overviewTable(insts []store.InstrumentRun) string {
	t := w.newTable("Symbol", "Trades", "Profit", "Profit %", "Win %", "Buy & hold %", "Status")
	for _, inst := range insts {
		switch {
		case inst.Err != "":
			t.Row(inst.Symbol, NA, NA, NA, NA, NA, "error")
		case inst.Summary == nil:
			t.Row(inst.Symbol, "0", NA, NA, NA, NA, "no trades")
		default:
			s := inst.Summary
			t.Row(inst.Symbol, strconv.Itoa(s.Trades),
				w.signed(s.TotalProfitAmt, Money(s.TotalProfitAmt)),
				w.signed(s.TotalProfitPct, Money(s.TotalProfitPct)),
				Money(s.WinPct),
				w.optionalSigned(s.BuyHoldPct, 100),
				"ok")
		}
	}
	return t.String()
}

func (w *Writer) signed(v float64, s string) string {
	switch {
	case v > 0:
		return w.gain.Render(s)
	case v < 0:
		return w.loss.Render(s)
	}
	return s
}

// optionalSigned colours a defined value scaled by mul, or prints NA.
func (w *Writer) optionalSigned(v null.Float64, mul float64) string {
	if !v.Valid {
		return NA
	}
	return w.signed(v.Float64, Money(v.Float64*mul))
}

// Money formats v with two decimals.
func Money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Optional formats a defined value with two decimals and an undefined one
// as NA.
func Optional(v null.Float64) string {
	if !v.Valid {
		return NA
	}
	return Money(v.Float64)
}

// Held formats a minutes figure with its duration, e.g. "2880.00m (2d0h0m)".
func Held(minutes float64) string {
	d := summary.Duration(minutes).Round(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	return fmt.Sprintf("%sm (%dd%dh%dm)", Money(minutes), days, h, d/time.Minute)
}

func runParams(run *store.Run) string {
	return fmt.Sprintf("strategy=%s market=%s capital=%s range=%s",
		run.Strategy, run.Market, Money(run.Capital), dateRange(run.Begin, run.End))
}

func dateRange(begin, end time.Time) string {
	f := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return t.Format(time.DateOnly)
	}
	return f(begin) + ".." + f(end)
}
