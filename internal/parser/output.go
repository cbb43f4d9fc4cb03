package parser

import (
	"regexp"
	"strconv"
	"strings"

	"shardrun/internal/domain"
)

var (
	phpunitOK       = regexp.MustCompile(`OK\s*\(\s*(\d+)\s+tests?`)
	phpunitTests    = regexp.MustCompile(`Tests:\s*(\d+)`)
	phpunitFailures = regexp.MustCompile(`Failures:\s*(\d+)`)
	phpunitErrors   = regexp.MustCompile(`Errors:\s*(\d+)`)
	goPass          = regexp.MustCompile(`(?m)^\s*--- PASS: `)
	goFail          = regexp.MustCompile(`(?m)^\s*--- FAIL: `)
	stackLine       = regexp.MustCompile(`([\w./\\-]+\.(?:php|go|java|kt|py|js|ts)):(\d+)`)
	failureHeader   = regexp.MustCompile(`^(?:\d+\)\s|--- FAIL: |FAIL:? )`)
)

// OutputParser reads the console output of a single test command
type OutputParser struct{}

// NewOutputParser creates a new OutputParser
func NewOutputParser() *OutputParser {
	return &OutputParser{}
}

// ParseTestCounts extracts passed and failed test case counts from runner output. PHPUnit
// and go test summaries are recognised. When neither is found the command result counts
// as one case.
func (p *OutputParser) ParseTestCounts(result domain.TestResult) (passed, failed int) {
	output := result.Output

	if m := phpunitOK.FindStringSubmatch(output); len(m) == 2 {
		total, _ := strconv.Atoi(m[1])
		return total, 0
	}

	total := firstInt(phpunitTests, output)
	failed = firstInt(phpunitFailures, output) + firstInt(phpunitErrors, output)
	if total >= failed {
		passed = total - failed
	}
	if passed > 0 || failed > 0 {
		return passed, failed
	}

	passed = len(goPass.FindAllStringIndex(output, -1))
	failed = len(goFail.FindAllStringIndex(output, -1))
	if passed > 0 || failed > 0 {
		return passed, failed
	}

	if result.Success {
		return 1, 0
	}
	return 0, 1
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if len(m) != 2 {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// ParseFailure describes a failed test from its output. Successful results yield nothing.
func (p *OutputParser) ParseFailure(result domain.TestResult) []domain.TestFailure {
	if result.Success {
		return nil
	}

	file, method := SplitTestID(result.TestID)
	name := method
	if name == "" {
		name = result.TestID
	}
	failure := domain.TestFailure{
		TestName:   name,
		FilePath:   file,
		StackTrace: []string{},
	}

	lines := strings.Split(result.Output, "\n")
	var message []string
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if failureHeader.MatchString(trimmed) {
			if len(message) > 0 {
				break
			}
			inBlock = true
			continue
		}
		if m := stackLine.FindStringSubmatch(trimmed); m != nil {
			failure.StackTrace = append(failure.StackTrace, trimmed)
			if len(message) > 0 {
				inBlock = false
			}
			if failure.File == "" && file != "" && strings.HasSuffix(m[1], fileBase(file)) {
				failure.File = m[1]
				failure.Line, _ = strconv.Atoi(m[2])
			}
			continue
		}
		if inBlock && (trimmed != "" || len(message) > 0) {
			message = append(message, line)
		}
	}

	for len(message) > 0 && strings.TrimSpace(message[len(message)-1]) == "" {
		message = message[:len(message)-1]
	}
	failure.Message = strings.Join(message, "\n")
	if failure.Message == "" && result.Error != nil {
		failure.Message = result.Error.Error()
	}
	failure.ErrorDetails = tail(lines, 20)
	return []domain.TestFailure{failure}
}

// SplitTestID separates "<file>::<method>" identifiers. Class-level identifiers have an
// empty method.
func SplitTestID(id string) (file, method string) {
	if i := strings.LastIndex(id, "::"); i >= 0 {
		return id[:i], id[i+2:]
	}
	return id, ""
}

func fileBase(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func tail(lines []string, n int) string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
