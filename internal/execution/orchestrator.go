package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shardrun/internal/aggregate"
	"shardrun/internal/allocation"
	"shardrun/internal/cleanup"
	"shardrun/internal/cluster"
	"shardrun/internal/config"
	"shardrun/internal/domain"
	"shardrun/internal/retry"
)

// Cluster is what the orchestrator needs from the container platform
type Cluster interface {
	CreateVolume(ctx context.Context, name string, labels map[string]string) error
	DeleteVolume(ctx context.Context, name string) error
	CreateWorker(ctx context.Context, spec domain.WorkerSpec) error
	WaitReady(ctx context.Context, name string) error
	DeleteWorker(ctx context.Context, name string) error
	DeleteWorkers(ctx context.Context, selector map[string]string) ([]string, error)
	Exec(ctx context.Context, name string, command []string, stdout, stderr io.Writer) (domain.ExitStatus, error)
	CopyDir(ctx context.Context, name, remoteDir, localDir string) (int, error)
	WatchStatus(ctx context.Context, name string) (func(), error)
}

// AuxProvisioner creates per-shard resources next to the worker, such as a database
// schema. Provision returns command placeholder replacements.
type AuxProvisioner interface {
	Provision(ctx context.Context, worker string) (map[string]string, error)
	Release(ctx context.Context, worker string) error
}

// PoolReleaser frees capacity booked ahead of the run
type PoolReleaser interface {
	Release(ctx context.Context, prefix string) ([]string, error)
}

// Progress reports finished shards
type Progress interface {
	Update(successCount, failCount int)
	Finish()
}

// FatalError aborts a run after a shard used up every attempt
type FatalError struct {
	Shard int
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("shard %d: %v", e.Shard, e.Err)
}

func (e *FatalError) Unwrap() []error {
	return []error{domain.ErrFatalOrchestration, e.Err}
}

// ShardJob is what one shard runs
type ShardJob struct {
	RunID   string
	Command string
	Tests   int
}

// RunRequest describes a whole orchestrated run
type RunRequest struct {
	RunID      string
	Seed       int64
	Shards     int
	Command    string
	PoolPrefix string
	// TestCounts optionally holds the allocation size of every shard
	TestCounts []int
}

// Orchestrator drives every shard of a run through provision, execute, collect and release
type Orchestrator struct {
	config     *config.Config
	cluster    Cluster
	logger     *zap.Logger
	active     *ActiveSet
	registry   *cleanup.Registry
	aux        AuxProvisioner
	pool       PoolReleaser
	progress   Progress
	console    *consoleWriter
	invocation string
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(cfg *config.Config, c Cluster, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		config:     cfg,
		cluster:    c,
		logger:     logger,
		active:     NewActiveSet(),
		registry:   cleanup.New(logger),
		invocation: uuid.NewString(),
	}
	if cfg.PrintOutput {
		o.console = &consoleWriter{out: os.Stdout}
	}
	return o
}

// SetProgress sets the progress bar updated as shards finish
func (o *Orchestrator) SetProgress(progress Progress) {
	o.progress = progress
}

// SetAuxProvisioner sets the per-shard resource hook
func (o *Orchestrator) SetAuxProvisioner(aux AuxProvisioner) {
	o.aux = aux
}

// SetPool sets the capacity pool released before workers are created
func (o *Orchestrator) SetPool(pool PoolReleaser) {
	o.pool = pool
}

// SetRegistry shares a cleanup registry, e.g. one swept on process signals
func (o *Orchestrator) SetRegistry(registry *cleanup.Registry) {
	o.registry = registry
}

// SetConsole mirrors worker output to w; nil disables mirroring
func (o *Orchestrator) SetConsole(w io.Writer) {
	if w == nil {
		o.console = nil
		return
	}
	o.console = &consoleWriter{out: w}
}

// Active returns the tracker of unreleased workers
func (o *Orchestrator) Active() *ActiveSet {
	return o.active
}

func (o *Orchestrator) strategy(spec domain.ShardSpec) (*retry.Strategy, error) {
	return retry.New(o.config.Retries,
		retry.WithDelay(o.config.RetryDelay),
		retry.WithLogger(o.logger),
		retry.WithName("shard "+spec.String()),
	)
}

// cleanupContext detaches from cancellation so teardown still reaches the cluster
func (o *Orchestrator) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := 2 * o.config.Cluster.DeleteTimeout
	if timeout <= 0 {
		timeout = 2 * config.DefaultDeleteTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// ExecuteShard runs one shard to completion and retries failed attempts. When attempts run
// out after at least one of them reported a status, the last status is the result. When
// none did, one last pass recovers what artifacts it can and a FatalError is returned
// along with a result carrying RecoveredExitCode.
func (o *Orchestrator) ExecuteShard(ctx context.Context, spec domain.ShardSpec, job ShardJob) (*domain.ShardResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	strategy, err := o.strategy(spec)
	if err != nil {
		return nil, err
	}

	w := o.newShardWorker(spec, job)
	start := time.Now()
	defer func() {
		cctx, cancel := o.cleanupContext(ctx)
		defer cancel()
		w.releaseShard(cctx)
	}()

	result, err := retry.Call(ctx, strategy, w.attempt)
	if err == nil {
		result.Duration = time.Since(start)
		return result, nil
	}
	if ctx.Err() != nil {
		w.transition(domain.StateFailed)
		return nil, ctx.Err()
	}

	if w.lastStatus != nil {
		w.logger.Warn("final attempt failed before reporting a status, keeping the last one",
			zap.Stringer("exit", *w.lastStatus), zap.Error(err))
		w.transition(domain.StateCollecting)
		dirs, ferr := FindResultFolders(w.localDir, o.config.ResultDocument)
		if ferr != nil {
			w.logger.Warn("failed to scan downloaded artifacts", zap.Error(ferr))
		}
		w.transition(domain.StateReleased)
		result := w.result(*w.lastStatus, dirs, strategy.MaxAttempts())
		result.Duration = time.Since(start)
		return &result, nil
	}

	w.transition(domain.StateFailed)
	recovered := w.recover(ctx)
	recovered.Attempts = strategy.MaxAttempts()
	recovered.Duration = time.Since(start)
	return &recovered, &FatalError{Shard: spec.Index, Err: err}
}

// Run executes every shard concurrently and aggregates the outcome. A fatal shard cancels
// the others; whatever they created is released before Run returns.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*domain.RunResult, error) {
	if req.Shards < 1 {
		return nil, fmt.Errorf("%w: requested %d shards", domain.ErrInvalidShardIndex, req.Shards)
	}
	start := time.Now()

	if req.PoolPrefix != "" && o.pool != nil {
		if _, err := o.pool.Release(ctx, req.PoolPrefix); err != nil {
			o.logger.Warn("failed to release capacity pool", zap.String("prefix", req.PoolPrefix), zap.Error(err))
		}
	}

	stale, err := o.cluster.DeleteWorkers(ctx, map[string]string{cluster.LabelRunID: req.RunID})
	if err != nil {
		return nil, fmt.Errorf("failed to remove workers of a previous run: %w", err)
	}
	if len(stale) > 0 {
		o.logger.Info("removed workers of a previous run", zap.Strings("workers", stale))
	}

	results := make([]*domain.ShardResult, req.Shards)
	var tally shardTally

	g, gctx := errgroup.WithContext(ctx)
	if o.config.MaxParallel > 0 {
		g.SetLimit(o.config.MaxParallel)
	}
	for i := 0; i < req.Shards; i++ {
		spec := domain.ShardSpec{Index: i, Count: req.Shards, Seed: req.Seed}
		job := ShardJob{RunID: req.RunID, Command: req.Command}
		if i < len(req.TestCounts) {
			job.Tests = req.TestCounts[i]
		}
		g.Go(func() error {
			res, err := o.ExecuteShard(gctx, spec, job)
			results[spec.Index] = res
			o.report(&tally, res)
			return err
		})
	}
	runErr := g.Wait()
	if o.progress != nil {
		o.progress.Finish()
	}

	if runErr != nil {
		cctx, cancel := o.cleanupContext(ctx)
		if err := o.registry.RunAll(cctx); err != nil {
			o.logger.Error("cleanup after failed run incomplete", zap.Error(err))
		}
		cancel()
	}

	finished := make([]domain.ShardResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			finished = append(finished, *r)
		}
	}
	run := aggregate.Aggregate(finished)
	run.Duration = time.Since(start)

	if runErr != nil {
		return run, runErr
	}
	return run, nil
}

type shardTally struct {
	mu      sync.Mutex
	success int
	failed  int
}

func (o *Orchestrator) report(t *shardTally, res *domain.ShardResult) {
	if o.progress == nil || res == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if res.Status.Succeeded() {
		t.success++
	} else {
		t.failed++
	}
	o.progress.Update(t.success, t.failed)
}

// shardWorker holds the per-shard state shared by all attempts
type shardWorker struct {
	o        *Orchestrator
	spec     domain.ShardSpec
	job      ShardJob
	name     string
	labels   map[string]string
	logFile  string
	localDir string
	handle   domain.WorkerHandle
	logger   *zap.Logger

	// lastStatus is the status of the latest attempt that got as far as reporting one
	lastStatus *domain.ExitStatus

	auxReplacements map[string]string
	auxHandle       *cleanup.Handle
	volumeHandle    *cleanup.Handle
	podHandle       *cleanup.Handle
}

func (o *Orchestrator) newShardWorker(spec domain.ShardSpec, job ShardJob) *shardWorker {
	name := allocation.WorkerName(o.config.Task, job.RunID, spec.Index)
	w := &shardWorker{
		o:    o,
		spec: spec,
		job:  job,
		name: name,
		labels: map[string]string{
			cluster.LabelRunID:      job.RunID,
			cluster.LabelShard:      strconv.Itoa(spec.Index),
			cluster.LabelInvocation: o.invocation,
		},
		logFile:  filepath.Join(o.config.GetLogDir(), fmt.Sprintf("container-%d.log", spec.Index)),
		localDir: filepath.Join(o.config.GetResultsDir(), name),
		handle:   domain.WorkerHandle{State: domain.StatePending},
		logger:   o.logger.With(zap.String("worker", name), zap.String("shard", spec.String())),
	}
	o.active.Set(name, domain.StatePending)
	return w
}

func (w *shardWorker) transition(next domain.WorkerState) {
	prev := w.handle.State
	if prev == next {
		return
	}
	if !prev.CanTransition(next) {
		w.logger.Warn("unexpected worker state change", zap.String("from", string(prev)), zap.String("to", string(next)))
	}
	w.logger.Debug("worker state", zap.String("from", string(prev)), zap.String("to", string(next)))
	w.handle.State = next
	if next == domain.StateReleased || next == domain.StateFailed {
		return
	}
	w.o.active.Set(w.name, next)
}

func (w *shardWorker) workerSpec() domain.WorkerSpec {
	cfg := w.o.config
	env := map[string]string{
		EnvShardIndex:   strconv.Itoa(w.spec.Index),
		EnvShardCount:   strconv.Itoa(w.spec.Count),
		EnvSeed:         strconv.FormatInt(w.spec.Seed, 10),
		EnvResultsDir:   cfg.GetRemoteResultsDir(),
		EnvLedger:       cfg.GetLedgerPath(),
		EnvRunID:        w.job.RunID,
		EnvTask:         cfg.Task,
		EnvDistribution: cfg.Distribution,
	}
	if cfg.WorkerLogLevel != "" {
		env[EnvLogLevel] = cfg.WorkerLogLevel
	}
	// Workers must discover the same list the orchestrator sized the shards with
	if cfg.Flags.NameFilter != "" {
		env[EnvFilter] = cfg.Flags.NameFilter
	}

	spec := domain.WorkerSpec{
		Name:         w.name,
		Namespace:    cfg.Cluster.Namespace,
		Image:        cfg.Image,
		SidecarImage: cfg.SidecarImage,
		VolumeName:   w.name,
		Cores:        cfg.CoresPerWorker,
		MemoryGB:     cfg.MemoryGBPerWorker,
		Taints:       cfg.Taints,
		Env:          env,
		Labels:       w.labels,
	}
	if cfg.Cluster.CacheHostDir != "" {
		spec.CacheHostDir = filepath.ToSlash(filepath.Join(cfg.Cluster.CacheHostDir, fmt.Sprintf("%d-%s", w.spec.Index, allocation.SanitizeName(cfg.Task))))
	}
	return spec
}

// prepareVolume removes leftovers of an earlier run with the same name and creates the
// scratch volume. The volume outlives individual attempts so the ledger on it survives.
func (w *shardWorker) prepareVolume(ctx context.Context) error {
	c := w.o.cluster
	if err := c.DeleteWorker(ctx, w.name); err != nil {
		return fmt.Errorf("failed to pre-clean worker %s: %w", w.name, err)
	}
	if err := c.DeleteVolume(ctx, w.name); err != nil {
		return fmt.Errorf("failed to pre-clean volume %s: %w", w.name, err)
	}
	if err := c.CreateVolume(ctx, w.name, w.labels); err != nil {
		return err
	}
	w.volumeHandle = w.o.registry.Register("volume/"+w.name, func(ctx context.Context) error {
		return c.DeleteVolume(ctx, w.name)
	})
	return nil
}

func (w *shardWorker) provisionAux(ctx context.Context) error {
	if w.o.aux == nil || w.auxReplacements != nil {
		return nil
	}
	replacements, err := w.o.aux.Provision(ctx, w.name)
	if err != nil {
		return fmt.Errorf("failed to provision resources for %s: %w", w.name, err)
	}
	if replacements == nil {
		replacements = map[string]string{}
	}
	w.auxReplacements = replacements
	aux := w.o.aux
	w.auxHandle = w.o.registry.Register("aux/"+w.name, func(ctx context.Context) error {
		return aux.Release(ctx, w.name)
	})
	return nil
}

// createPod deletes any pod with the worker's name, creates a fresh one and waits for it
func (w *shardWorker) createPod(ctx context.Context) error {
	c := w.o.cluster
	if err := c.DeleteWorker(ctx, w.name); err != nil {
		return fmt.Errorf("failed to pre-clean worker %s: %w", w.name, err)
	}
	w.handle.Spec = w.workerSpec()
	if err := c.CreateWorker(ctx, w.handle.Spec); err != nil {
		return err
	}
	w.podHandle = w.o.registry.Register("pod/"+w.name, func(ctx context.Context) error {
		return c.DeleteWorker(ctx, w.name)
	})
	return c.WaitReady(ctx, w.name)
}

func (w *shardWorker) deletePod(ctx context.Context) {
	if w.podHandle == nil {
		return
	}
	if err := w.podHandle.Release(ctx); err != nil {
		w.logger.Warn("failed to delete worker", zap.Error(err))
	}
	w.podHandle = nil
}

func (w *shardWorker) attempt(ctx context.Context, attempt int) (*domain.ShardResult, error) {
	final := attempt == w.o.config.Retries
	w.transition(domain.StateProvisioning)

	if w.volumeHandle == nil {
		if err := w.prepareVolume(ctx); err != nil {
			w.transition(domain.StateRetrying)
			return nil, err
		}
	}
	if err := w.provisionAux(ctx); err != nil {
		w.transition(domain.StateRetrying)
		return nil, err
	}
	if err := w.createPod(ctx); err != nil {
		w.transition(domain.StateRetrying)
		w.deletePod(ctx)
		return nil, err
	}

	if stopWatch, err := w.o.cluster.WatchStatus(ctx, w.name); err != nil {
		w.logger.Debug("status watch unavailable", zap.Error(err))
	} else if stopWatch != nil {
		defer stopWatch()
	}

	w.transition(domain.StateRunning)
	status, err := w.execute(ctx)
	if err != nil {
		w.transition(domain.StateRetrying)
		w.deletePod(ctx)
		return nil, err
	}
	w.lastStatus = &status

	if !status.Succeeded() && !final {
		w.logger.Warn("shard did not succeed, retrying", zap.Stringer("exit", status), zap.Int("attempt", attempt))
		w.collect(ctx)
		w.transition(domain.StateRetrying)
		w.deletePod(ctx)
		return nil, fmt.Errorf("shard %s exited with status %s", w.spec, status)
	}

	w.transition(domain.StateCollecting)
	dirs := w.collect(ctx)
	w.deletePod(ctx)
	w.transition(domain.StateReleased)

	result := w.result(status, dirs, attempt)
	return &result, nil
}

func (w *shardWorker) result(status domain.ExitStatus, dirs []string, attempts int) domain.ShardResult {
	result := domain.NewShardResult(w.spec.Index, w.name, status)
	result.LogFile = w.logFile
	result.ArtifactDirs = dirs
	result.Tests = w.job.Tests
	result.Attempts = attempts
	return result
}

// execute runs the shard command and returns its exit status
func (w *shardWorker) execute(ctx context.Context) (domain.ExitStatus, error) {
	cfg := w.o.config
	if cfg.Cluster.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Cluster.ExecTimeout)
		defer cancel()
	}

	pump, err := startLogPump(w.logFile, w.spec.Index, w.o.console)
	if err != nil {
		return domain.ExitStatus{}, err
	}
	stderr := &statusWriter{}
	command := ExpandCommand(w.job.Command, w.spec, w.job.RunID, w.auxReplacements)

	w.logger.Info("executing shard", zap.String("log", w.logFile))
	server, execErr := w.o.cluster.Exec(ctx, w.name, WrapCommand(command), pump.Writer(), stderr)
	if err := pump.Close(); err != nil {
		w.logger.Warn("log pump stopped early", zap.Error(err))
	}
	if stray := stderr.Stray(); stray != "" {
		w.logger.Warn("unexpected output on status channel", zap.String("stderr", stray))
	}

	status := ResolveExitStatus(stderr.Status(), server)
	if execErr != nil && !status.Known {
		return domain.ExitStatus{}, fmt.Errorf("exec in %s failed: %w", w.name, execErr)
	}
	w.logger.Info("shard command finished", zap.Stringer("exit", status))
	return status, nil
}

// collect downloads the worker's result directory and returns the artifact folders found.
// Failures are logged; whatever arrived is kept.
func (w *shardWorker) collect(ctx context.Context) []string {
	cfg := w.o.config
	w.logger.Info("saving results", zap.String("dir", w.localDir))
	if _, err := w.o.cluster.CopyDir(ctx, w.name, cfg.GetRemoteResultsDir(), w.localDir); err != nil {
		w.logger.Warn("artifact download incomplete", zap.Error(fmt.Errorf("%w: %w", domain.ErrCollectionFailure, err)))
	}
	dirs, err := FindResultFolders(w.localDir, cfg.ResultDocument)
	if err != nil {
		w.logger.Warn("failed to scan downloaded artifacts", zap.Error(err))
	}
	return dirs
}

// recover makes one best-effort attempt to fetch artifacts after all attempts failed.
// Without a scratch volume there is nothing to fetch, so no worker is started.
func (w *shardWorker) recover(ctx context.Context) domain.ShardResult {
	var dirs []string
	if w.volumeHandle == nil {
		w.logger.Error("all attempts failed before the scratch volume existed, nothing to recover")
	} else {
		w.logger.Error("all attempts failed, trying to recover results")
		if err := w.startRecoveryPod(ctx); err != nil {
			w.logger.Error("recovery worker did not start", zap.Error(err))
		} else {
			dirs = w.collect(ctx)
		}
		w.deletePod(ctx)
	}

	result := w.result(domain.ExitStatus{Code: domain.RecoveredExitCode, Known: true}, dirs, 0)
	result.Recovered = true
	return result
}

// startRecoveryPod creates the worker again with a shorter bound on the ready wait
func (w *shardWorker) startRecoveryPod(ctx context.Context) error {
	timeout := w.o.config.Cluster.RecoveryTimeout
	if timeout <= 0 {
		timeout = config.DefaultRecoveryTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.createPod(rctx)
}

// releaseShard tears down everything the shard still holds
func (w *shardWorker) releaseShard(ctx context.Context) {
	w.deletePod(ctx)
	if w.volumeHandle != nil {
		if err := w.volumeHandle.Release(ctx); err != nil {
			w.logger.Warn("failed to delete volume", zap.Error(err))
		}
	}
	if w.auxHandle != nil {
		if err := w.auxHandle.Release(ctx); err != nil {
			w.logger.Warn("failed to release shard resources", zap.Error(err))
		}
	}
	remaining := w.o.active.Remove(w.name)
	w.logger.Info("worker released", zap.Strings("remaining", remaining))
}

// IsFatal reports whether err aborts the run
func IsFatal(err error) bool {
	return errors.Is(err, domain.ErrFatalOrchestration)
}
