package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Fields returns the summary as the flat string map used in reports, with
// keys suffixed by the momentum window (e.g. "aperf_c_20") and values
// formatted to two decimals.
func (s Summary) Fields(momentum int) map[string]string {
	return map[string]string{
		fmt.Sprintf("aperf_c_%d", momentum): fixed2(s.AbsolutePerfCash),
		fmt.Sprintf("aperf_p_%d", momentum): fixed2(s.AbsolutePerfPct),
		fmt.Sprintf("operf_c_%d", momentum): fixed2(s.OutperfCash),
		fmt.Sprintf("operf_p_%d", momentum): fixed2(s.OutperfPct),
		fmt.Sprintf("mdd_c_%d", momentum):   fixed2(s.MaxDrawdownCash),
		fmt.Sprintf("mdd_p_%d", momentum):   fixed2(s.MaxDrawdownPct),
	}
}

func fixed2(v float64) string {
	return decimal.NewFromFloat(v).StringFixedBank(2)
}

// Report groups summaries of several momentum windows:
//
//	{"Momentum Strategies": {"strategy_20": {"aperf_c_20": "10693.07", ...}}}
type Report map[string]map[string]map[string]string

// NewReport builds a Report from summaries keyed by momentum window.
func NewReport(summaries map[int]Summary) Report {
	strategies := make(map[string]map[string]string, len(summaries))
	for m, s := range summaries {
		strategies[fmt.Sprintf("strategy_%d", m)] = s.Fields(m)
	}
	return Report{"Momentum Strategies": strategies}
}

// Windows returns the momentum windows present in summaries in ascending
// order.
func Windows(summaries map[int]Summary) []int {
	out := make([]int, 0, len(summaries))
	for m := range summaries {
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

var runCSVHeader = []string{
	"time",
	"returns",
	"position",
	"strategy",
	"trade",
	"net_strategy",
	"creturns_c",
	"cstrategy_c",
	"creturns_p",
	"cstrategy_p",
	"cmreturns_c",
	"cmstrategy_c",
	"cmreturns_p",
	"cmstrategy_p",
	"ddreturns_c",
	"ddstrategy_c",
	"ddreturns_p",
	"ddstrategy_p",
}

// WriteRunCSV writes one row per observation of run. Bars with no position
// carry an empty position cell.
func WriteRunCSV(w io.Writer, run *StrategyRun) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(runCSVHeader); err != nil {
		return err
	}

	for _, r := range run.Rows() {
		pos := ""
		if r.Position.Defined() {
			pos = strconv.Itoa(int(r.Position))
		}
		row := []string{
			r.Time.Format(time.RFC3339),
			fmtFloat(r.Return),
			pos,
			fmtFloat(r.StrategyReturn),
			strconv.FormatBool(r.Trade),
			fmtFloat(r.NetStrategyReturn),
			fmtFloat(r.ReturnCash),
			fmtFloat(r.StrategyCash),
			fmtFloat(r.ReturnPct),
			fmtFloat(r.StrategyPct),
			fmtFloat(r.PeakReturnCash),
			fmtFloat(r.PeakStrategyCash),
			fmtFloat(r.PeakReturnPct),
			fmtFloat(r.PeakStrategyPct),
			fmtFloat(r.DrawdownReturnCash),
			fmtFloat(r.DrawdownStrategyCash),
			fmtFloat(r.DrawdownReturnPct),
			fmtFloat(r.DrawdownStrategyPct),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func fmtFloat(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
