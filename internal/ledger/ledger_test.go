package ledger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "executed-tests.txt")
	l, err := Open(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenKeepsExistingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executed-tests.txt")
	require.NoError(t, os.WriteFile(path, []byte("a.Test::one\n\na.Test::two\n"), 0644))

	l, err := Open(path)
	require.NoError(t, err)
	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "a.Test::one")
}

func TestEntriesMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executed-tests.txt")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExcludeSkipsRecordedTests(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "executed-tests.txt"))
	require.NoError(t, err)
	require.NoError(t, l.Append("t2"))
	require.NoError(t, l.Append("t4"))

	remaining, err := l.Exclude([]string{"t1", "t2", "t3", "t4", "t5"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3", "t5"}, remaining)
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executed-tests.txt")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Append("suite::passed"))

	second, err := Open(path)
	require.NoError(t, err)
	remaining, err := second.Exclude([]string{"suite::passed", "suite::pending"})
	require.NoError(t, err)
	assert.Equal(t, []string{"suite::pending"}, remaining)
}

func TestAppendRejectsBadEntries(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "executed-tests.txt"))
	require.NoError(t, err)
	assert.Error(t, l.Append(""))
	assert.Error(t, l.Append("a\nb"))
}

func TestConcurrentAppend(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "executed-tests.txt"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Append(filepath.Join("pkg", "Test", string(rune('a'+i)))))
		}(i)
	}
	wg.Wait()

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
