package parser

import (
	"path/filepath"
	"testing"
	"time"

	"shardrun/internal/domain"
)

const sampleReport = `<?xml version="1.0" encoding="UTF-8"?>
<testsuites>
  <testsuite name="Tests\Unit" tests="3" failures="1" errors="1">
    <testsuite name="Tests\Unit\UserTest" file="/app/tests/Unit/UserTest.php" tests="3">
      <testcase name="testCreate" classname="Tests\Unit\UserTest" file="/app/tests/Unit/UserTest.php" line="12" time="0.01"/>
      <testcase name="testDelete" classname="Tests\Unit\UserTest" file="/app/tests/Unit/UserTest.php" line="30" time="0.02">
        <failure type="AssertionFailedError">Failed asserting that 1 is 2.
/app/tests/Unit/UserTest.php:33</failure>
      </testcase>
      <testcase name="testUpdate" classname="Tests\Unit\UserTest" time="0.02">
        <error message="boom" type="RuntimeException">trace</error>
      </testcase>
    </testsuite>
  </testsuite>
</testsuites>`

func TestParseJUnit_NestedSuites(t *testing.T) {
	report, err := ParseJUnit([]byte(sampleReport))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(report.Cases()); got != 3 {
		t.Fatalf("expected 3 cases, got %d", got)
	}

	failures := report.Failures(2)
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	if failures[0].TestName != "testDelete" || failures[0].Line != 30 || failures[0].Shard != 2 {
		t.Errorf("unexpected first failure %+v", failures[0])
	}
	if failures[0].Message != "Failed asserting that 1 is 2." {
		t.Errorf("unexpected message %q", failures[0].Message)
	}
	if len(failures[0].StackTrace) != 1 {
		t.Errorf("expected one stack line, got %v", failures[0].StackTrace)
	}
	if failures[1].Message != "boom" || failures[1].FilePath != `Tests\Unit\UserTest` {
		t.Errorf("unexpected second failure %+v", failures[1])
	}
}

func TestParseJUnit_SingleSuiteRoot(t *testing.T) {
	report, err := ParseJUnit([]byte(`<testsuite name="x"><testcase name="a"/></testsuite>`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Cases()) != 1 {
		t.Errorf("expected 1 case, got %d", len(report.Cases()))
	}
}

func TestParseJUnit_Invalid(t *testing.T) {
	if _, err := ParseJUnit([]byte(`<html></html>`)); err == nil {
		t.Error("expected error for unexpected root")
	}
	if _, err := ParseJUnit([]byte(`not xml`)); err == nil {
		t.Error("expected error for garbage")
	}
}

func TestWriteAndReadJUnitFile(t *testing.T) {
	results := []domain.TestResult{
		{TestID: "tests/BTest.php::testOne", Success: true, Duration: time.Second},
		{TestID: "tests/ATest.php::testTwo", Success: false, Output: "Failed asserting", Duration: 2 * time.Second},
		{TestID: "tests/BTest.php::testThree", Success: true},
	}
	failures := map[string]domain.TestFailure{
		"tests/ATest.php::testTwo": {Message: "Failed asserting\nmore", Line: 9},
	}

	report := BuildJUnit("shard-1", results, failures, 3*time.Second)
	if report.Tests != 3 || report.FailureCount != 1 {
		t.Fatalf("unexpected totals %d/%d", report.Tests, report.FailureCount)
	}
	if report.Suites[0].Name != "tests/ATest.php" {
		t.Errorf("suites should be sorted, got %s first", report.Suites[0].Name)
	}

	path := filepath.Join(t.TempDir(), "reports", "results.xml")
	if err := WriteJUnitFile(path, report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	read, err := ParseJUnitFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := read.Failures(0)
	if len(got) != 1 || got[0].TestName != "testTwo" || got[0].Message != "Failed asserting" || got[0].Line != 9 {
		t.Errorf("unexpected failures after round trip: %+v", got)
	}
}

func TestBuildJUnit_Empty(t *testing.T) {
	report := BuildJUnit("empty", nil, nil, 0)
	if report.Tests != 0 || len(report.Suites) != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}
