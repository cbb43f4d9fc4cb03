package execution

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"shardrun/internal/domain"
)

// execScript is what one Exec call of the fake cluster does
type execScript struct {
	stdout []string
	// marker is written on stderr as the wrapper would; nil means the wrapper never got there
	marker *int
	server domain.ExitStatus
	err    error
}

func exitCode(code int) *int { return &code }

type fakeCluster struct {
	mu        sync.Mutex
	calls     []string
	scripts   []execScript
	execCount int
	commands  []string
	readyErr  error
	// readyHook, when set, decides the outcome of the n-th WaitReady call (1-based)
	readyHook  func(ctx context.Context, n int) error
	readyCount int
	volumeErr  error
	pods       map[string]bool
	volumes    map[string]bool
	creates    int
	artifacts  map[string]string
}

func newFakeCluster(scripts ...execScript) *fakeCluster {
	return &fakeCluster{
		scripts:   scripts,
		pods:      make(map[string]bool),
		volumes:   make(map[string]bool),
		artifacts: map[string]string{"suite/results.xml": "<testsuite name=\"s\"/>"},
	}
}

func (f *fakeCluster) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeCluster) callsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCluster) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	f.record("create-volume %s", name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volumeErr != nil {
		return f.volumeErr
	}
	f.volumes[name] = true
	return nil
}

func (f *fakeCluster) DeleteVolume(ctx context.Context, name string) error {
	f.record("delete-volume %s", name)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, name)
	return nil
}

func (f *fakeCluster) CreateWorker(ctx context.Context, spec domain.WorkerSpec) error {
	f.record("create-worker %s", spec.Name)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pods[spec.Name] = true
	f.creates++
	return nil
}

func (f *fakeCluster) WaitReady(ctx context.Context, name string) error {
	f.record("wait-ready %s", name)
	f.mu.Lock()
	f.readyCount++
	n, hook := f.readyCount, f.readyHook
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, n)
	}
	return f.readyErr
}

func (f *fakeCluster) DeleteWorker(ctx context.Context, name string) error {
	f.record("delete-worker %s", name)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pods, name)
	return nil
}

func (f *fakeCluster) DeleteWorkers(ctx context.Context, selector map[string]string) ([]string, error) {
	keys := make([]string, 0, len(selector))
	for k, v := range selector {
		keys = append(keys, k+"="+v)
	}
	f.record("delete-workers %s", strings.Join(keys, ","))
	return nil, nil
}

func (f *fakeCluster) Exec(ctx context.Context, name string, command []string, stdout, stderr io.Writer) (domain.ExitStatus, error) {
	f.mu.Lock()
	script := execScript{}
	if len(f.scripts) > 0 {
		i := min(f.execCount, len(f.scripts)-1)
		script = f.scripts[i]
	}
	f.execCount++
	f.commands = append(f.commands, command[len(command)-1])
	f.mu.Unlock()

	f.record("exec %s", name)
	for _, line := range script.stdout {
		fmt.Fprintln(stdout, line)
	}
	if script.marker != nil {
		fmt.Fprintf(stderr, "%s%d\n", exitMarker, *script.marker)
	}
	return script.server, script.err
}

func (f *fakeCluster) CopyDir(ctx context.Context, name, remoteDir, localDir string) (int, error) {
	f.record("copy %s", name)
	for rel, body := range f.artifacts {
		path := filepath.Join(localDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return 0, err
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			return 0, err
		}
	}
	return len(f.artifacts), nil
}

func (f *fakeCluster) WatchStatus(ctx context.Context, name string) (func(), error) {
	return func() {}, nil
}

type fakeAux struct {
	mu       sync.Mutex
	released []string
}

func (a *fakeAux) Provision(ctx context.Context, worker string) (map[string]string, error) {
	return map[string]string{"{database}": strings.ReplaceAll(worker, "-", "_") + "_db"}, nil
}

func (a *fakeAux) Release(ctx context.Context, worker string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released = append(a.released, worker)
	return nil
}

type fakePool struct {
	mu       sync.Mutex
	released []string
}

func (p *fakePool) Release(ctx context.Context, prefix string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, prefix)
	return nil, nil
}

type fakeProgress struct {
	mu       sync.Mutex
	success  int
	failed   int
	finished bool
}

func (p *fakeProgress) Update(successCount, failCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.success, p.failed = successCount, failCount
}

func (p *fakeProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = true
}
