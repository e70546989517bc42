package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/openfroyo/procsim/pkg/policy"
	"github.com/openfroyo/procsim/pkg/process"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00AFFF"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F"))
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func title(w io.Writer, s string) {
	if noColor {
		fmt.Fprintln(w, s)
		return
	}
	fmt.Fprintln(w, titleStyle.Render(s))
}

func status(s string, ok bool) string {
	if noColor {
		return s
	}
	if ok {
		return okStyle.Render(s)
	}
	return errorStyle.Render(s)
}

// printTable renders rows under headers. Empty tables print nothing.
func printTable(w io.Writer, headers []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	border := lipgloss.NormalBorder()
	if noColor {
		border = lipgloss.HiddenBorder()
	}
	t := table.New().
		Border(border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

// num formats a value for a table cell; NaN marks an absent value.
func num(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func printReport(w io.Writer, rep process.Report) {
	title(w, fmt.Sprintf("%s  run %s  passes %d", rep.Process, rep.Run.ID, rep.Run.Passes))

	units := make([][]string, 0, len(rep.Units))
	for _, u := range rep.Units {
		units = append(units, []string{u.Name, u.Type, status(u.State, u.Error == ""), u.Error})
	}
	printTable(w, []string{"unit", "type", "state", "error"}, units)

	streams := make([][]string, 0, len(rep.Streams))
	for _, s := range rep.Streams {
		if s.Empty {
			streams = append(streams, []string{s.Name, s.Producer, "-", "-", "-", "-", "empty"})
			continue
		}
		streams = append(streams, []string{
			s.Name, s.Producer,
			num(s.TemperatureK), num(s.PressureBara), num(s.MolarFlow), num(s.MassFlow),
			fmt.Sprint(s.Phases),
		})
	}
	printTable(w, []string{"stream", "from", "T [K]", "P [bara]", "mol/s", "kg/s", "phases"}, streams)

	recycles := make([][]string, 0, len(rep.Recycles))
	for _, r := range rep.Recycles {
		residual := "-"
		if r.Residual >= 0 {
			residual = num(r.Residual)
		}
		recycles = append(recycles, []string{
			r.Name, strconv.Itoa(r.Iterations), residual, num(r.Tolerance),
			status(strconv.FormatBool(r.Converged), r.Converged),
		})
	}
	printTable(w, []string{"recycle", "iterations", "residual", "tolerance", "converged"}, recycles)
}

func printPolicyResult(w io.Writer, res *policy.Result) {
	if res == nil {
		return
	}
	if len(res.Violations) == 0 {
		fmt.Fprintln(w, status(fmt.Sprintf("envelope ok (%d policies)", len(res.EvaluatedPolicies)), true))
		return
	}
	rows := make([][]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		subject := v.Unit
		if subject == "" {
			subject = v.Stream
		}
		rows = append(rows, []string{v.Policy, string(v.Severity), subject, v.Message})
	}
	title(w, "envelope violations")
	printTable(w, []string{"policy", "severity", "subject", "message"}, rows)
	for _, warn := range res.Warnings {
		fmt.Fprintln(w, "warning:", warn)
	}
}
