package discovery

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"shardrun/internal/config"
	"shardrun/internal/domain"
)

// Discoverer produces the ordered test identifier list a run is sharded over. The order
// only depends on the project contents, so the orchestrator and every worker agree on it.
type Discoverer struct {
	config  *config.Config
	scanner *Scanner
	parser  *Parser
	filter  *Filter
	logger  *zap.Logger
}

// NewDiscoverer creates a Discoverer for the configured project
func NewDiscoverer(cfg *config.Config, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		config:  cfg,
		scanner: NewScanner(cfg.PathsToIgnore, cfg.TestSuffixes),
		parser:  NewParser(),
		filter:  NewFilter(),
		logger:  logger,
	}
}

// Discover returns the sorted, de-duplicated identifiers for the configured distribution
// mode. An explicit test list file takes precedence over scanning.
func (d *Discoverer) Discover() ([]string, error) {
	var ids []string
	if d.config.TestListFile != "" {
		listed, err := ReadTestList(d.listPath())
		if err != nil {
			return nil, err
		}
		ids = listed
	} else {
		cases, err := d.Cases()
		if err != nil {
			return nil, err
		}
		for _, tc := range cases {
			ids = append(ids, tc.ID())
		}
	}

	ids = d.filter.FilterByName(ids, d.config.Flags.NameFilter)
	ids = dedupe(ids)
	d.logger.Info("discovered tests",
		zap.Int("count", len(ids)),
		zap.String("distribution", string(d.config.DistributionMode())),
	)
	return ids, nil
}

// Cases scans the test path. In class mode every file is one case; in method mode every
// test method is, and files without recognisable methods fall back to a class case.
func (d *Discoverer) Cases() ([]domain.TestCase, error) {
	files, err := d.scanner.Scan(d.config.GetTestPath())
	if err != nil {
		return nil, err
	}

	byMethod := d.config.DistributionMode() == domain.DistributeByMethod
	var cases []domain.TestCase
	for _, file := range files {
		rel := d.relative(file)
		if !byMethod {
			cases = append(cases, domain.TestCase{FilePath: rel})
			continue
		}

		methods, err := d.parser.FindTestCases(file)
		if err != nil {
			return nil, err
		}
		if len(methods) == 0 {
			d.logger.Debug("no test methods found, using file", zap.String("file", rel))
			cases = append(cases, domain.TestCase{FilePath: rel})
			continue
		}
		for _, m := range methods {
			cases = append(cases, domain.TestCase{Name: m, FilePath: rel})
		}
	}
	return cases, nil
}

func (d *Discoverer) relative(file string) string {
	if rel, err := filepath.Rel(d.config.ProjectPath, file); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(file)
}

func (d *Discoverer) listPath() string {
	if filepath.IsAbs(d.config.TestListFile) {
		return d.config.TestListFile
	}
	return filepath.Join(d.config.ProjectPath, d.config.TestListFile)
}

// ReadTestList reads one identifier per line. Blank lines and lines starting with '#'
// are ignored.
func ReadTestList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading test list %s: %w", path, err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading test list %s: %w", path, err)
	}
	return ids, nil
}

func dedupe(ids []string) []string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	out := sorted[:0]
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
