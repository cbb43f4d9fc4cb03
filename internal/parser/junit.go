package parser

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"shardrun/internal/domain"
)

// JUnitTestSuites is the root element of a JUnit XML report
type JUnitTestSuites struct {
	XMLName      xml.Name         `xml:"testsuites"`
	Name         string           `xml:"name,attr,omitempty"`
	Tests        int              `xml:"tests,attr"`
	FailureCount int              `xml:"failures,attr"`
	Errors       int              `xml:"errors,attr"`
	Time         float64          `xml:"time,attr"`
	Suites       []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite groups test cases, usually one per class or file
type JUnitTestSuite struct {
	Name     string           `xml:"name,attr"`
	File     string           `xml:"file,attr,omitempty"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Skipped  int              `xml:"skipped,attr,omitempty"`
	Time     float64          `xml:"time,attr"`
	Suites   []JUnitTestSuite `xml:"testsuite"`
	Cases    []JUnitTestCase  `xml:"testcase"`
}

// JUnitTestCase is a single test
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr,omitempty"`
	File      string        `xml:"file,attr,omitempty"`
	Line      int           `xml:"line,attr,omitempty"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitProblem `xml:"failure,omitempty"`
	Error     *JUnitProblem `xml:"error,omitempty"`
	Skipped   *struct{}     `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

// JUnitProblem is a failure or error element
type JUnitProblem struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Body    string `xml:",chardata"`
}

// ParseJUnitFile reads a report. Both <testsuites> and a bare <testsuite> root are accepted.
func ParseJUnitFile(path string) (*JUnitTestSuites, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading report %s: %w", path, err)
	}
	return ParseJUnit(data)
}

// ParseJUnit decodes report bytes
func ParseJUnit(data []byte) (*JUnitTestSuites, error) {
	var root struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid JUnit report: %w", err)
	}

	switch root.XMLName.Local {
	case "testsuites":
		var suites JUnitTestSuites
		if err := xml.Unmarshal(data, &suites); err != nil {
			return nil, fmt.Errorf("invalid JUnit report: %w", err)
		}
		return &suites, nil
	case "testsuite":
		var suite JUnitTestSuite
		if err := xml.Unmarshal(data, &suite); err != nil {
			return nil, fmt.Errorf("invalid JUnit report: %w", err)
		}
		return &JUnitTestSuites{Suites: []JUnitTestSuite{suite}}, nil
	}
	return nil, fmt.Errorf("invalid JUnit report: unexpected root <%s>", root.XMLName.Local)
}

// Cases returns every test case of the report, including nested suites
func (r *JUnitTestSuites) Cases() []JUnitTestCase {
	var out []JUnitTestCase
	var walk func(suites []JUnitTestSuite)
	walk = func(suites []JUnitTestSuite) {
		for _, s := range suites {
			out = append(out, s.Cases...)
			walk(s.Suites)
		}
	}
	walk(r.Suites)
	return out
}

// Failures converts failed and errored cases of a report into TestFailures for a shard
func (r *JUnitTestSuites) Failures(shard int) []domain.TestFailure {
	var failures []domain.TestFailure
	for _, c := range r.Cases() {
		problem := c.Failure
		if problem == nil {
			problem = c.Error
		}
		if problem == nil {
			continue
		}
		body := strings.TrimSpace(problem.Body)
		message := problem.Message
		if message == "" {
			message = firstLine(body)
		}
		failures = append(failures, domain.TestFailure{
			TestName:     c.Name,
			FilePath:     caseFile(c),
			ErrorDetails: body,
			StackTrace:   stackLines(body),
			File:         c.File,
			Line:         c.Line,
			Message:      message,
			Shard:        shard,
		})
	}
	return failures
}

func caseFile(c JUnitTestCase) string {
	if c.File != "" {
		return c.File
	}
	return c.Classname
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func stackLines(body string) []string {
	lines := []string{}
	for _, line := range strings.Split(body, "\n") {
		if trimmed := strings.TrimSpace(line); stackLine.MatchString(trimmed) {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// BuildJUnit turns runner results into a report with one suite per test file
func BuildJUnit(name string, results []domain.TestResult, failures map[string]domain.TestFailure, duration time.Duration) *JUnitTestSuites {
	bySuite := make(map[string]*JUnitTestSuite)
	var order []string
	for _, res := range results {
		file, method := SplitTestID(res.TestID)
		suite, ok := bySuite[file]
		if !ok {
			suite = &JUnitTestSuite{Name: file, File: file}
			bySuite[file] = suite
			order = append(order, file)
		}

		caseName := method
		if caseName == "" {
			caseName = file
		}
		tc := JUnitTestCase{Name: caseName, Classname: file, File: file, Time: res.Duration.Seconds()}
		if !res.Success {
			problem := &JUnitProblem{Type: "failure", Body: res.Output}
			if f, ok := failures[res.TestID]; ok {
				problem.Message = firstLine(f.Message)
				tc.Line = f.Line
			}
			tc.Failure = problem
			suite.Failures++
		}
		suite.Tests++
		suite.Time += tc.Time
		suite.Cases = append(suite.Cases, tc)
	}

	sort.Strings(order)
	report := &JUnitTestSuites{Name: name, Time: duration.Seconds()}
	for _, file := range order {
		s := bySuite[file]
		report.Tests += s.Tests
		report.FailureCount += s.Failures
		report.Suites = append(report.Suites, *s)
	}
	return report
}

// WriteJUnitFile writes the report, creating parent directories
func WriteJUnitFile(path string, report *JUnitTestSuites) error {
	data, err := xml.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	return os.WriteFile(path, append([]byte(xml.Header), data...), 0644)
}
