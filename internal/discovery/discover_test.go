package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shardrun/internal/config"
)

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"tests/Unit/UserTest.php":     "<?php\nclass UserTest {\n    public function testCreate() {}\n    public function testDelete() {}\n}\n",
		"tests/Unit/EmptyTest.php":    "<?php\nclass EmptyTest {}\n",
		"tests/Feature/OrderTest.php": "<?php\nclass OrderTest {\n    /** @test */\n    public function it_ships() {}\n}\n",
		"vendor/pkg/VendorTest.php":   "<?php\nclass VendorTest {\n    public function testX() {}\n}\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func newTestConfig(root string) *config.Config {
	cfg := config.New()
	cfg.ProjectPath = root
	cfg.TestPath = "."
	return cfg
}

func TestDiscoverByMethod(t *testing.T) {
	cfg := newTestConfig(writeProject(t))
	cfg.Distribution = "method"

	ids, err := NewDiscoverer(cfg, nil).Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tests/Feature/OrderTest.php::it_ships",
		"tests/Unit/EmptyTest.php",
		"tests/Unit/UserTest.php::testCreate",
		"tests/Unit/UserTest.php::testDelete",
	}, ids)
}

func TestDiscoverByClass(t *testing.T) {
	cfg := newTestConfig(writeProject(t))
	cfg.Distribution = "class"

	ids, err := NewDiscoverer(cfg, nil).Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tests/Feature/OrderTest.php",
		"tests/Unit/EmptyTest.php",
		"tests/Unit/UserTest.php",
	}, ids)
}

func TestDiscoverNameFilter(t *testing.T) {
	cfg := newTestConfig(writeProject(t))
	cfg.Flags.NameFilter = "User*"

	ids, err := NewDiscoverer(cfg, nil).Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tests/Unit/UserTest.php::testCreate",
		"tests/Unit/UserTest.php::testDelete",
	}, ids)
}

func TestDiscoverFromList(t *testing.T) {
	root := t.TempDir()
	list := "# nightly selection\nb::two\n\na::one\nb::two\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "tests.txt"), []byte(list), 0644))

	cfg := newTestConfig(root)
	cfg.TestListFile = "tests.txt"

	ids, err := NewDiscoverer(cfg, nil).Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{"a::one", "b::two"}, ids)
}

func TestDiscoverMissingList(t *testing.T) {
	cfg := newTestConfig(t.TempDir())
	cfg.TestListFile = "missing.txt"

	_, err := NewDiscoverer(cfg, nil).Discover()
	assert.Error(t, err)
}

func TestDiscoverIsStable(t *testing.T) {
	cfg := newTestConfig(writeProject(t))
	d := NewDiscoverer(cfg, nil)

	first, err := d.Discover()
	require.NoError(t, err)
	second, err := d.Discover()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
