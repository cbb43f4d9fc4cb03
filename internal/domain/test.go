package domain

import (
	"fmt"
	"time"
)

// DistributionMode controls the granularity of test identifiers in a run
type DistributionMode string

const (
	// DistributeByClass uses one identifier per test file/class
	DistributeByClass DistributionMode = "class"
	// DistributeByMethod uses one identifier per test method ("<class>::<method>")
	DistributeByMethod DistributionMode = "method"
)

// ParseDistributionMode validates a mode string
func ParseDistributionMode(s string) (DistributionMode, error) {
	switch DistributionMode(s) {
	case DistributeByClass, DistributeByMethod:
		return DistributionMode(s), nil
	case "":
		return DistributeByMethod, nil
	}
	return "", fmt.Errorf("%w: unknown distribution mode %q", ErrInvalidArgument, s)
}

// MethodID builds the qualified identifier of a single test method
func MethodID(class, method string) string {
	return class + "::" + method
}

// TestCase represents a single test case within a test file
type TestCase struct {
	Name     string // Test method name, empty for a class-level case
	FilePath string // Path to the test file containing this case
}

// ID returns the identifier the case is distributed under
func (tc TestCase) ID() string {
	if tc.Name == "" {
		return tc.FilePath
	}
	return MethodID(tc.FilePath, tc.Name)
}

// TestResult is the outcome of running one test identifier inside a worker
type TestResult struct {
	TestID   string
	Success  bool
	Output   string
	Error    error
	Duration time.Duration
}
