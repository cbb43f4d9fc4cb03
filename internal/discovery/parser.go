package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	// public function testCreateUser(), protected static function test_it_works()
	phpTestMethod = regexp.MustCompile(`(?m)^\s*(?:(?:public|protected|private|static|final)\s+)*function\s+(test\w*)\s*\(`)
	// @test in a docblock or on the preceding line
	phpAnnotated = []*regexp.Regexp{
		regexp.MustCompile(`(?m)@test\s*\n\s*(?:/\*\*.*?\*/)?\s*(?:(?:public|protected|private|static|final)\s+)*function\s+(\w+)\s*\(`),
		regexp.MustCompile(`(?m)/\*\*[\s\S]*?@test[\s\S]*?\*/\s*(?:(?:public|protected|private|static|final)\s+)*function\s+(\w+)\s*\(`),
		regexp.MustCompile(`(?m)@test.*?function\s+(\w+)\s*\(`),
	}
	// @Test followed by further annotations and a Java or Kotlin method
	jvmTestMethod = regexp.MustCompile(`(?m)@(?:org\.junit\.(?:jupiter\.api\.)?)?Test\b(?:\([^)]*\))?\s*(?:@\w+(?:\([^)]*\))?\s*)*(?:(?:public|protected|private|internal|static|final|open|override|suspend)\s+)*(?:void\s+|fun\s+)(\w+|` + "`[^`]+`" + `)\s*\(`)
	goTestFunc    = regexp.MustCompile(`(?m)^func\s+(Test\w*)\s*\(\s*\w+\s+\*testing\.T\s*\)`)
)

// Parser parses test files to extract test cases
type Parser struct{}

// NewParser creates a new Parser
func NewParser() *Parser {
	return &Parser{}
}

// FindTestCases finds all test methods in a test file. The language is picked from the
// file extension; unknown extensions yield no methods.
func (p *Parser) FindTestCases(filePath string) ([]string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", filePath, err)
	}
	source := string(content)
	found := make(map[string]bool)

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".php":
		collect(found, phpTestMethod, source)
		for _, pattern := range phpAnnotated {
			collect(found, pattern, source)
		}
	case ".java", ".kt":
		collect(found, jvmTestMethod, source)
	case ".go":
		collect(found, goTestFunc, source)
	}

	testCases := make([]string, 0, len(found))
	for name := range found {
		testCases = append(testCases, name)
	}
	sort.Strings(testCases)
	return testCases, nil
}

func collect(found map[string]bool, pattern *regexp.Regexp, source string) {
	for _, match := range pattern.FindAllStringSubmatch(source, -1) {
		if len(match) > 1 {
			found[strings.Trim(match[1], "`")] = true
		}
	}
}
