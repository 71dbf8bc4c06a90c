package bench

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

var reportHeader = []string{"System", "Relevance", "Faithfulness", "Latency (s)", "Throughput (q/min)", "Uptime (%)", "Error rate (%)"}

// WriteReport prints the metrics table followed by stage utilization.
func WriteReport(out io.Writer, metrics []Metrics) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "Results (normalized to 1.0):")
	for i, h := range reportHeader {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, h)
	}
	_, _ = fmt.Fprintln(w)

	for _, m := range metrics {
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.1f\t%.1f\n",
			m.System,
			m.Relevance,
			m.Faithfulness,
			m.AvgLatency.Seconds(),
			m.Throughput,
			m.Uptime*100,
			m.ErrorRate*100,
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out, "\nStage utilization (% of runs):")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, m := range metrics {
		for _, st := range UsageStages {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f%%\n", m.System, st, m.Utilization(st))
		}
	}
	_ = w.Flush()
}

// ExportXLSX writes the metrics to a workbook with a results sheet and a
// stage utilization sheet.
func ExportXLSX(path string, metrics []Metrics) error {
	f := xlsx.NewFile()

	results, err := f.AddSheet("Results")
	if err != nil {
		return eris.Wrap(err, "bench: add results sheet")
	}
	header := results.AddRow()
	for _, h := range reportHeader {
		header.AddCell().SetString(h)
	}
	for _, m := range metrics {
		row := results.AddRow()
		row.AddCell().SetString(m.System)
		row.AddCell().SetFloat(m.Relevance)
		row.AddCell().SetFloat(m.Faithfulness)
		row.AddCell().SetFloat(m.AvgLatency.Seconds())
		row.AddCell().SetFloat(m.Throughput)
		row.AddCell().SetFloat(m.Uptime * 100)
		row.AddCell().SetFloat(m.ErrorRate * 100)
	}

	usage, err := f.AddSheet("Stage utilization")
	if err != nil {
		return eris.Wrap(err, "bench: add utilization sheet")
	}
	header = usage.AddRow()
	for _, h := range []string{"System", "Stage", "Runs", "Utilization (%)"} {
		header.AddCell().SetString(h)
	}
	for _, m := range metrics {
		for _, st := range UsageStages {
			row := usage.AddRow()
			row.AddCell().SetString(m.System)
			row.AddCell().SetString(st)
			row.AddCell().SetInt(m.StageUsage[st])
			row.AddCell().SetFloat(m.Utilization(st))
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "bench: save %s", path)
	}
	return nil
}
