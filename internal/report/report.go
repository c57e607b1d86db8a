// Package report renders a harness run for people (text) and for other programs (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hyperjump/vearchprobe/internal/bench"
	"github.com/hyperjump/vearchprobe/internal/harness"
	"github.com/hyperjump/vearchprobe/pkg/utils"
)

// Format is the output format of a report.
type Format string

const (
	// FormatText is human-readable text (default).
	FormatText Format = "text"
	// FormatJSON is structured JSON for machine consumption.
	FormatJSON Format = "json"
)

// ParseFormat accepts "text", "json" or empty (text).
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Write renders rep to w in the given format.
func Write(w io.Writer, rep *harness.Report, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	default:
		return writeText(w, rep)
	}
}

type styles struct {
	title lipgloss.Style
	pass  lipgloss.Style
	fail  lipgloss.Style
	skip  lipgloss.Style
	muted lipgloss.Style
}

// newStyles binds colours to w, so output to a file or pipe stays plain.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title: r.NewStyle().Bold(true),
		pass:  r.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
		fail:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#F38BA8")),
		skip:  r.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
		muted: r.NewStyle().Foreground(lipgloss.Color("#6C7086")),
	}
}

func (s styles) status(st harness.Status) string {
	label := fmt.Sprintf("%-5s", strings.ToUpper(string(st)))
	switch st {
	case harness.StatusPass:
		return s.pass.Render(label)
	case harness.StatusSkipped:
		return s.skip.Render("SKIP ")
	default:
		return s.fail.Render(label)
	}
}

func writeText(w io.Writer, rep *harness.Report) error {
	st := newStyles(w)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", st.title.Render("vearchprobe run"), utils.ShortID(rep.RunID, 8))
	fmt.Fprintln(&b, st.muted.Render(fmt.Sprintf("router %s  data %s", rep.RouterURL, rep.DataURL)))
	fmt.Fprintln(&b)

	for _, c := range rep.Cases {
		switch c.Status {
		case harness.StatusSkipped:
			fmt.Fprintf(&b, "%s %s: %s\n", st.status(c.Status), c.Name, c.Reason)
		case harness.StatusError:
			fmt.Fprintf(&b, "%s %s: %s\n", st.status(c.Status), c.Name, c.Error)
		default:
			fmt.Fprintf(&b, "%s %s %s\n", st.status(c.Status), c.Name, st.muted.Render("("+c.Duration.Round(1e6).String()+")"))
		}
		for _, f := range c.Failures {
			fmt.Fprintf(&b, "      x %s\n", f.Error())
			if f.Body != "" {
				fmt.Fprintf(&b, "        %s\n", st.muted.Render(utils.Truncate(f.Body, 200)))
			}
		}
	}

	for _, sw := range rep.Sweeps {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "%s %s  store=%s ncentroids=%d documents=%d\n",
			st.title.Render("Recall sweep"), sw.Space, sw.StoreType, sw.NCentroids, sw.Documents)
		fmt.Fprintln(&b, sweepTable(sw.Combos))
	}

	if len(rep.TeardownErrors) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, st.fail.Render("Teardown errors:"))
		for _, e := range rep.TeardownErrors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}

	counts := rep.Counts()
	verdict := st.pass.Render("PASS")
	if !rep.Passed() {
		verdict = st.fail.Render("FAIL")
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed, %d errors, %d skipped in %s: %s\n",
		counts[harness.StatusPass], counts[harness.StatusFail], counts[harness.StatusError], counts[harness.StatusSkipped],
		rep.Finished.Sub(rep.Started).Round(1e6), verdict)

	_, err := io.WriteString(w, b.String())
	return err
}

func sweepTable(combos []bench.ComboResult) string {
	var ks []int
	if len(combos) > 0 {
		ks = combos[0].RecallKs()
	}
	headers := []string{"mode", "nprobe", "parallel", "queries"}
	for _, k := range ks {
		headers = append(headers, "recall@"+strconv.Itoa(k))
	}
	headers = append(headers, "avg latency", "result")

	t := table.New().Border(lipgloss.NormalBorder()).Headers(headers...)
	for _, c := range combos {
		row := []string{
			c.Params.Mode.String(),
			strconv.Itoa(c.Params.Nprobe),
			strconv.Itoa(c.Params.ParallelOnQueries),
			strconv.Itoa(c.Queries),
		}
		for _, k := range ks {
			row = append(row, strconv.FormatFloat(c.Recall[k], 'f', 4, 64))
		}
		result := "ok"
		switch {
		case c.Err != nil:
			result = c.Err.Error()
		case !c.Gated:
			result = "ok (not gated)"
		}
		row = append(row, c.AvgLatency.String(), result)
		t.Row(row...)
	}
	return t.Render()
}
