package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"shardrun/internal/domain"
)

var (
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	white  = color.New(color.FgWhite)
)

const (
	tableTop    = "┌─────────────────────────────────┬─────────────────────────────┐"
	tableSep    = "├─────────────────────────────────┼─────────────────────────────┤"
	tableBottom = "└─────────────────────────────────┴─────────────────────────────┘"
)

// Formatter formats and displays run output
type Formatter struct {
	out io.Writer
}

// NewFormatter creates a new Formatter writing to out
func NewFormatter(out io.Writer) *Formatter {
	return &Formatter{out: out}
}

func (f *Formatter) row(label string, c *color.Color, value string, last bool) {
	fmt.Fprintf(f.out, "│ %-31s │ ", label)
	c.Fprintf(f.out, "%-27s", value)
	fmt.Fprintln(f.out, " │")
	if !last {
		fmt.Fprintln(f.out, tableSep)
	}
}

// PrintSummary displays run statistics, the per-shard outcome and the failed test tree
func (f *Formatter) PrintSummary(output *domain.RunResultsOutput) {
	meta := output.Meta

	fmt.Fprintln(f.out)
	cyan.Fprintln(f.out, "╔═══════════════════════════════════════════════════════════════╗")
	cyan.Fprintln(f.out, "║                    Sharded Run Statistics                     ║")
	cyan.Fprintln(f.out, "╚═══════════════════════════════════════════════════════════════╝")

	fmt.Fprintln(f.out, tableTop)
	f.row("Task", white, meta.Task, false)
	f.row("Run", white, meta.RunID, false)
	f.row("Shards", white, fmt.Sprint(meta.TotalShards), false)
	f.row("Passed Shards", green, fmt.Sprint(meta.PassedShards), false)
	f.row("Failed Shards", red, fmt.Sprint(meta.FailedShards), false)
	f.row("Unknown Shards", yellow, fmt.Sprint(meta.UnknownShards), false)
	f.row("Test Cases", white, fmt.Sprint(meta.TotalTests), false)
	f.row("Failed Test Cases", red, fmt.Sprint(meta.FailedTestCases), false)
	f.row("Duration", white, fmt.Sprintf("%.2fs", meta.DurationSeconds), false)
	f.row("Timestamp", white, meta.Timestamp, true)
	fmt.Fprintln(f.out, tableBottom)

	if len(output.Shards) > 0 {
		fmt.Fprintln(f.out)
		f.printShards(output.Shards)
	}

	fmt.Fprintln(f.out)
	switch {
	case meta.FailedShards == 0 && meta.UnknownShards == 0:
		green.Fprintln(f.out, "✓ All shards passed!")
	case meta.FailedShards == 0:
		yellow.Fprintf(f.out, "? %d shard(s) finished without a reported exit code\n", meta.UnknownShards)
	default:
		red.Fprintf(f.out, "✗ %d shard(s) failed with %d test case failure(s)\n", meta.FailedShards, meta.FailedTestCases)
	}
	if len(output.Details) > 0 {
		fmt.Fprintln(f.out)
		f.printFailedTestsTree(output.Details)
	}
}

func (f *Formatter) printShards(shards []domain.ShardResult) {
	for _, s := range shards {
		marker, c := "✓", green
		switch {
		case !s.Status.Known:
			marker, c = "?", yellow
		case s.Status.Code != 0:
			marker, c = "✗", red
		}
		line := fmt.Sprintf("%s shard %d  %-40s exit %-7s attempts %d", marker, s.Index, s.Worker, s.Status, s.Attempts)
		if s.Recovered {
			line += "  (recovered)"
		}
		c.Fprintln(f.out, line)
		if s.LogFile != "" {
			fmt.Fprintf(f.out, "    log: %s\n", s.LogFile)
		}
	}
}

// TreeNode represents a node in the file tree structure
type TreeNode struct {
	Name     string
	Children map[string]*TreeNode
	Failures []domain.TestFailure
	IsFile   bool
}

// printFailedTestsTree prints a tree structure of failed tests
func (f *Formatter) printFailedTestsTree(failures []domain.TestFailure) {
	fileMap := make(map[string][]domain.TestFailure)
	for _, failure := range failures {
		fileMap[failure.FilePath] = append(fileMap[failure.FilePath], failure)
	}

	root := &TreeNode{Children: make(map[string]*TreeNode)}
	for filePath, fileFailures := range fileMap {
		parts := strings.Split(strings.TrimPrefix(filePath, "./"), "/")
		current := root
		for i, part := range parts {
			if part == "" {
				continue
			}
			if current.Children[part] == nil {
				current.Children[part] = &TreeNode{
					Name:     part,
					Children: make(map[string]*TreeNode),
					IsFile:   i == len(parts)-1,
				}
			}
			current = current.Children[part]
			if i == len(parts)-1 {
				current.Failures = fileFailures
			}
		}
	}

	f.printTreeNode(root, "", true)
}

func (f *Formatter) printTreeNode(node *TreeNode, prefix string, isRoot bool) {
	keys := make([]string, 0, len(node.Children))
	for key := range node.Children {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for i, key := range keys {
		child := node.Children[key]
		isLastChild := i == len(keys)-1

		connector := prefix + "├── "
		if isRoot {
			connector = ""
		} else if isLastChild {
			connector = prefix + "└── "
		}
		if child.IsFile {
			yellow.Fprintf(f.out, "%s%s\n", connector, child.Name)
		} else {
			cyan.Fprintf(f.out, "%s%s\n", connector, child.Name)
		}

		childPrefix := prefix + "│   "
		if isRoot {
			childPrefix = ""
		} else if isLastChild {
			childPrefix = prefix + "    "
		}
		for j, failure := range child.Failures {
			casePrefix := childPrefix + "├── "
			if j == len(child.Failures)-1 {
				casePrefix = childPrefix + "└── "
			}
			red.Fprintf(f.out, "%s%s [shard %d]\n", casePrefix, failure.TestName, failure.Shard)
		}
		f.printTreeNode(child, childPrefix, false)
	}
}

// PrintTestList prints discovered identifiers. failed marks identifiers that failed in the
// last run with [F].
func (f *Formatter) PrintTestList(tests []string, failed map[string]struct{}) {
	green.Fprintf(f.out, "Found %d test(s):\n", len(tests))
	for i, test := range tests {
		connector := "├── "
		if i == len(tests)-1 {
			connector = "└── "
		}
		cyan.Fprintf(f.out, "%s%s", connector, test)
		if _, ok := failed[test]; ok {
			red.Fprint(f.out, " [F]")
		}
		fmt.Fprintln(f.out)
	}
}

// PrintAllocation prints the identifiers assigned to each shard
func (f *Formatter) PrintAllocation(shards [][]string, seed int64, showTests bool) {
	total := 0
	for _, s := range shards {
		total += len(s)
	}
	green.Fprintf(f.out, "%d test(s) across %d shard(s), seed %d\n", total, len(shards), seed)
	for i, tests := range shards {
		cyan.Fprintf(f.out, "shard %d/%d: %d test(s)\n", i+1, len(shards), len(tests))
		if !showTests {
			continue
		}
		for j, test := range tests {
			connector := "├── "
			if j == len(tests)-1 {
				connector = "└── "
			}
			fmt.Fprintf(f.out, "%s%s\n", connector, test)
		}
	}
}

// FailedSet returns the identifiers of the failures in a previous run
func FailedSet(output *domain.RunResultsOutput) map[string]struct{} {
	set := make(map[string]struct{})
	if output == nil {
		return set
	}
	for _, d := range output.Details {
		set[d.FilePath] = struct{}{}
		if d.TestName != "" {
			set[domain.MethodID(d.FilePath, d.TestName)] = struct{}{}
		}
	}
	return set
}
