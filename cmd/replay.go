package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/BioHazard786/huddle/internal/journal"
	"github.com/BioHazard786/huddle/internal/ui"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var flagSummaryOnly bool

var replayCmd = &cobra.Command{
	Use:   "replay <journal-file>",
	Short: "Print the signaling frames recorded with join --journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return replay(args[0])
	},
}

func replay(path string) error {
	entries, err := journal.Load(path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.PrintWarning("Journal is empty")
		return nil
	}

	if !flagSummaryOnly {
		renderEntries(entries)
		fmt.Println()
	}
	renderSummary(journal.Summarize(entries))
	return nil
}

func renderEntries(entries []journal.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Time", "Dir", "Type", "From", "Bytes"})

	start := entries[0].At
	for i, e := range entries {
		from := ""
		if msg, err := e.Message(); err == nil {
			from = msg.Sender()
		}
		t.AppendRow(table.Row{i + 1, fmt.Sprintf("+%s", e.At.Sub(start).Truncate(time.Millisecond)), string(e.Dir), e.Kind, from, len(e.Raw)})
	}
	t.Render()
}

func renderSummary(summary []journal.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Frames by type")
	t.AppendHeader(table.Row{"Type", "In", "Out"})

	var in, out int
	for _, s := range summary {
		t.AppendRow(table.Row{s.Kind, s.Inbound, s.Outbound})
		in += s.Inbound
		out += s.Outbound
	}
	t.AppendFooter(table.Row{"Total", in, out})
	t.Render()
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().BoolVar(&flagSummaryOnly, "summary", false, "Only print per-type counts")
}
