package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/humblenginr/sentence_slicer/logging"
	"github.com/humblenginr/sentence_slicer/pipeline"
)

// printSummary lists the kept sentences: a table when w is a terminal,
// tab-separated rows otherwise so the output pipes cleanly.
func printSummary(w io.Writer, res *pipeline.Result) error {
	if f, ok := w.(*os.File); ok && logging.IsTerminal(f) {
		_, err := fmt.Fprintln(w, renderSummary(res))
		return err
	}
	return writeSummaryTSV(w, res)
}

func renderSummary(res *pipeline.Result) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("%d sentences in %s", len(res.Kept), res.SentenceDir)
	tw.AppendHeader(table.Row{"#", "Start", "End", "Duration", "Text", "Clip"})
	for _, k := range res.Kept {
		tw.AppendRow(table.Row{
			k.Index,
			strconv.FormatFloat(k.Start, 'f', 2, 64),
			strconv.FormatFloat(k.End, 'f', 2, 64),
			strconv.FormatFloat(k.Duration(), 'f', 2, 64),
			k.Text,
			filepath.Base(k.AudioPath),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, WidthMax: 60},
	})
	return tw.Render()
}

func writeSummaryTSV(w io.Writer, res *pipeline.Result) error {
	for _, k := range res.Kept {
		if _, err := fmt.Fprintf(w, "%d\t%.2f\t%.2f\t%s\t%s\n", k.Index, k.Start, k.End, k.Text, k.AudioPath); err != nil {
			return err
		}
	}
	return nil
}
