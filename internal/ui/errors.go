package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"shardrun/internal/domain"
	"shardrun/internal/storage"
)

// allShards selects every shard in the shard table
const allShards = -1

// maxStackLines caps the stack trace shown in the details pane
const maxStackLines = 10

// ReportViewer browses a run in a terminal UI: a shard table on top, the failures of the
// selected shard below it and the details of the selected failure on the right. Marking a
// failure resolved is persisted through the storage.
type ReportViewer struct {
	storage storage.Storage
	out     io.Writer
}

// NewReportViewer creates a new ReportViewer
func NewReportViewer(st storage.Storage, out io.Writer) *ReportViewer {
	return &ReportViewer{storage: st, out: out}
}

// reportState is the filter the panes render from
type reportState struct {
	results        *domain.RunResultsOutput
	shard          int
	unresolvedOnly bool
	visible        []int
}

func (s *reportState) refresh() {
	s.visible = filterFailures(s.results.Details, s.shard, s.unresolvedOnly)
}

// View runs the TUI until the user quits
func (rv *ReportViewer) View(results *domain.RunResultsOutput) error {
	if len(results.Shards) == 0 && len(results.Details) == 0 {
		yellow.Fprintln(rv.out, "Nothing to show: the run has no shards")
		return nil
	}

	state := &reportState{results: results, shard: allShards}
	state.refresh()
	app := tview.NewApplication()

	header := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetDynamicColors(true)

	table := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" shards ")
	fillShardTable(table, results)

	list := tview.NewList().
		ShowSecondaryText(false).
		SetHighlightFullLine(true).
		SetSelectedBackgroundColor(tcell.ColorDarkCyan)
	list.SetBorder(true).SetTitle(" failures ")

	details := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetWordWrap(true)
	details.SetBorder(true).SetTitle(" details ")

	showDetails := func() {
		i := list.GetCurrentItem()
		if i < 0 || i >= len(state.visible) {
			details.SetText("[gray]no failure selected[white]")
			return
		}
		failure := results.Details[state.visible[i]]
		details.SetText(formatFailureStats(failure, findShard(results.Shards, failure.Shard)) + "\n" + formatFailureDetails(failure))
	}
	fillList := func() {
		current := list.GetCurrentItem()
		list.Clear()
		for n, idx := range state.visible {
			list.AddItem(listItemText(results.Details[idx], n+1), "", 0, nil)
		}
		if current >= 0 && current < list.GetItemCount() {
			list.SetCurrentItem(current)
		}
		header.SetText(headerText(results, state.shard, state.unresolvedOnly))
		showDetails()
	}

	table.SetSelectionChangedFunc(func(row, _ int) {
		state.shard = shardForRow(results, row)
		state.refresh()
		fillList()
	})
	list.SetChangedFunc(func(int, string, string, rune) {
		showDetails()
	})

	var saveErr error
	panes := []tview.Primitive{table, list, details}
	focused := 0
	cycle := func(step int) {
		focused = (focused + step + len(panes)) % len(panes)
		app.SetFocus(panes[focused])
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyTab:
			cycle(1)
			return nil
		case tcell.KeyBacktab:
			cycle(-1)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				app.Stop()
				return nil
			case 'u':
				state.unresolvedOnly = !state.unresolvedOnly
				state.refresh()
				fillList()
				return nil
			case 'r':
				if app.GetFocus() != list {
					return event
				}
				i := list.GetCurrentItem()
				if i < 0 || i >= len(state.visible) {
					return nil
				}
				toggleResolved(results, state.visible[i])
				if err := rv.storage.Save(results); err != nil {
					saveErr = err
				}
				state.refresh()
				fillList()
				return nil
			}
		}
		return event
	})

	fillList()

	body := tview.NewFlex().
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(table, len(results.Shards)+4, 0, true).
			AddItem(list, 0, 1, false), 0, 1, true).
		AddItem(details, 0, 2, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 1, 0, false).
		AddItem(body, 0, 1, true)

	if err := app.SetRoot(root, true).SetFocus(table).Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	if saveErr != nil {
		color.New(color.FgRed).Fprintf(rv.out, "failed to save resolved state: %v\n", saveErr)
	}
	return nil
}

var shardColumns = []string{"shard", "worker", "status", "exit", "attempts", "tests", "failures", "duration"}

func fillShardTable(table *tview.Table, results *domain.RunResultsOutput) {
	for c, title := range shardColumns {
		table.SetCell(0, c, tview.NewTableCell(title).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetExpansion(1))
	}
	table.SetCell(1, 0, tview.NewTableCell("all"))
	table.SetCell(1, 6, tview.NewTableCell(fmt.Sprint(len(results.Details))))

	perShard := failuresPerShard(results.Details)
	for i, s := range results.Shards {
		for c, text := range shardRow(s, perShard[s.Index]) {
			cell := tview.NewTableCell(text)
			if c == 2 {
				cell.SetTextColor(statusColor(s))
			}
			table.SetCell(i+2, c, cell)
		}
	}
	table.Select(1, 0)
}

// shardForRow maps a table row to a shard index; the first data row selects every shard
func shardForRow(results *domain.RunResultsOutput, row int) int {
	i := row - 2
	if i < 0 || i >= len(results.Shards) {
		return allShards
	}
	return results.Shards[i].Index
}

func shardRow(s domain.ShardResult, failures int) []string {
	return []string{
		fmt.Sprint(s.Index),
		s.Worker,
		shardStatus(s),
		s.Status.String(),
		fmt.Sprint(s.Attempts),
		fmt.Sprint(s.Tests),
		fmt.Sprint(failures),
		s.Duration.Round(time.Second).String(),
	}
}

func shardStatus(s domain.ShardResult) string {
	switch {
	case !s.Status.Known:
		return "unknown"
	case s.Status.Code != 0:
		return "failed"
	case s.Recovered:
		return "recovered"
	}
	return "passed"
}

func statusColor(s domain.ShardResult) tcell.Color {
	switch shardStatus(s) {
	case "failed":
		return tcell.ColorRed
	case "unknown":
		return tcell.ColorYellow
	}
	return tcell.ColorGreen
}

func findShard(shards []domain.ShardResult, index int) *domain.ShardResult {
	for i := range shards {
		if shards[i].Index == index {
			return &shards[i]
		}
	}
	return nil
}

func failuresPerShard(details []domain.TestFailure) map[int]int {
	counts := make(map[int]int)
	for _, d := range details {
		counts[d.Shard]++
	}
	return counts
}

// filterFailures returns indexes into details that belong to shard (or every shard)
func filterFailures(details []domain.TestFailure, shard int, unresolvedOnly bool) []int {
	var out []int
	for i, d := range details {
		if shard != allShards && d.Shard != shard {
			continue
		}
		if unresolvedOnly && d.Resolved {
			continue
		}
		out = append(out, i)
	}
	return out
}

func toggleResolved(results *domain.RunResultsOutput, index int) {
	results.Details[index].Resolved = !results.Details[index].Resolved
}

func countUnresolved(results *domain.RunResultsOutput) int {
	count := 0
	for _, d := range results.Details {
		if !d.Resolved {
			count++
		}
	}
	return count
}

func headerText(results *domain.RunResultsOutput, shard int, unresolvedOnly bool) string {
	scope := "all shards"
	if shard != allShards {
		scope = fmt.Sprintf("shard %d", shard)
	}
	if unresolvedOnly {
		scope += ", unresolved only"
	}
	return fmt.Sprintf("%s run %s (%s): %d failures, %d unresolved | Tab switch pane, [yellow]r[white] resolve, [yellow]u[white] unresolved only, [yellow]q[white] quit",
		results.Meta.Task, results.Meta.RunID, scope, len(results.Details), countUnresolved(results))
}

func listItemText(failure domain.TestFailure, number int) string {
	name := failure.TestName
	if name == "" {
		name = fmt.Sprintf("Test %d", number)
	}
	if failure.Resolved {
		return fmt.Sprintf("[gray]✓ %d. %s[white]", number, name)
	}
	return fmt.Sprintf("[yellow]%d.[white] %s", number, name)
}

// formatFailureDetails renders message, output and stack trace with tview color tags
func formatFailureDetails(failure domain.TestFailure) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[red]✗ %s[white]\n", tview.Escape(failure.TestName))
	if failure.File != "" && failure.Line > 0 {
		fmt.Fprintf(&b, "[yellow]at %s:%d[white]\n", failure.File, failure.Line)
	}
	if failure.Message != "" {
		fmt.Fprintf(&b, "\n[yellow]Message:[white]\n%s\n", tview.Escape(failure.Message))
	}
	if failure.ErrorDetails != "" {
		fmt.Fprintf(&b, "\n[yellow]Output:[white]\n%s\n", tview.Escape(failure.ErrorDetails))
	}
	if len(failure.StackTrace) > 0 {
		b.WriteString("\n[yellow]Stack Trace:[white]\n")
		for i, trace := range failure.StackTrace {
			if i == maxStackLines {
				fmt.Fprintf(&b, "  [gray]... and %d more lines[white]\n", len(failure.StackTrace)-maxStackLines)
				break
			}
			fmt.Fprintf(&b, "  %s\n", tview.Escape(trace))
		}
	}
	return b.String()
}

// formatFailureStats renders where the failure ran. shard may be nil for failures whose
// shard is missing from the results.
func formatFailureStats(failure domain.TestFailure, shard *domain.ShardResult) string {
	path := failure.FilePath
	if path == "" {
		path = "unknown path"
	}
	stats := fmt.Sprintf("[cyan]path:[white] %s\n[cyan]shard:[white] %d", path, failure.Shard)
	if shard == nil {
		return stats + "\n"
	}
	stats += fmt.Sprintf("  [cyan]worker:[white] %s  [cyan]attempts:[white] %d", shard.Worker, shard.Attempts)
	if shard.LogFile != "" {
		stats += fmt.Sprintf("\n[cyan]log:[white] %s", shard.LogFile)
	}
	return stats + "\n"
}
