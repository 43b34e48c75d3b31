package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/openmined/dupwatch/internal/catalog"
	"github.com/openmined/dupwatch/internal/checksum"
	"github.com/openmined/dupwatch/internal/resolver"
	"github.com/openmined/dupwatch/internal/utils"
)

const (
	DefaultTickInterval         = time.Second
	DefaultHousekeepingInterval = time.Hour
	DefaultStaleAfter           = time.Hour
	DefaultMaxDeferrals         = 5
)

var ErrAlreadyRunning = errors.New("coordinator already running")

// PathState is where a path stands in the coordinator.
type PathState int

const (
	Untracked PathState = iota
	Pending
	Processing
	Processed
	Abandoned
)

func (s PathState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Processing:
		return "processing"
	case Processed:
		return "processed"
	case Abandoned:
		return "abandoned"
	default:
		return "untracked"
	}
}

type Outcome int

const (
	// OutcomeInserted is a new catalog record.
	OutcomeInserted Outcome = iota + 1
	// OutcomeCatalogued means the same path is already on record.
	OutcomeCatalogued
	OutcomeKept
	OutcomeDeleted
	// OutcomeSkipped is an empty file.
	OutcomeSkipped
	OutcomeGone
	// OutcomeDeferred sends the path back to pending for another try.
	OutcomeDeferred
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeCatalogued:
		return "catalogued"
	case OutcomeKept:
		return "kept"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeGone:
		return "gone"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes what happened to one path.
type Result struct {
	JobID    string
	Path     string
	Outcome  Outcome
	Verdict  Verdict
	Digest   string
	Existing string
	Err      error
}

type Options struct {
	TickInterval         time.Duration
	HousekeepingInterval time.Duration
	StaleAfter           time.Duration
	ProcessedMax         int
	ProcessedKeep        int
	// MaxDeferrals bounds how often a locked file or a catalog outage sends
	// a path back to pending before it is abandoned.
	MaxDeferrals int
	Filter       *Filter
	OnResult     func(Result)
	// Probe checks a file can be read; defaults to utils.CanRead.
	Probe func(path string) error
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.HousekeepingInterval <= 0 {
		o.HousekeepingInterval = DefaultHousekeepingInterval
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.ProcessedMax <= 0 {
		o.ProcessedMax = DefaultProcessedMax
	}
	if o.ProcessedKeep <= 0 || o.ProcessedKeep > o.ProcessedMax {
		o.ProcessedKeep = min(DefaultProcessedKeep, o.ProcessedMax)
	}
	if o.MaxDeferrals <= 0 {
		o.MaxDeferrals = DefaultMaxDeferrals
	}
	if o.Probe == nil {
		o.Probe = utils.CanRead
	}
	return o
}

// Coordinator turns filesystem events into catalog records once each file
// has finished downloading.
type Coordinator struct {
	source   EventSource
	hasher   checksum.Hasher
	catalog  catalog.Catalog
	resolver resolver.ConflictResolver
	opts     Options

	// mu guards everything below as one unit
	mu        sync.Mutex
	tracker   *Tracker
	pending   mapset.Set[string]
	inflight  mapset.Set[string]
	processed *ProcessedSet
	abandoned *ProcessedSet
	deferrals map[string]int
	stats     map[Outcome]int

	running bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	jobs    sync.WaitGroup
}

func NewCoordinator(
	source EventSource,
	tracker *Tracker,
	hasher checksum.Hasher,
	cat catalog.Catalog,
	res resolver.ConflictResolver,
	opts Options,
) *Coordinator {
	if tracker == nil {
		tracker = NewTracker()
	}
	if res == nil {
		res = resolver.Static{Decision: resolver.Keep}
	}
	return &Coordinator{
		source:    source,
		hasher:    hasher,
		catalog:   cat,
		resolver:  res,
		opts:      opts.withDefaults(),
		tracker:   tracker,
		pending:   mapset.NewThreadUnsafeSet[string](),
		inflight:  mapset.NewThreadUnsafeSet[string](),
		processed: NewProcessedSet(),
		abandoned: NewProcessedSet(),
		deferrals: make(map[string]int),
		stats:     make(map[Outcome]int),
	}
}

func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if err := c.source.Start(ctx); err != nil {
		c.cancel()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("start event source: %w", err)
	}

	slog.Info("coordinator start", "tick", c.opts.TickInterval, "housekeeping", c.opts.HousekeepingInterval)

	c.loops.Add(3)
	go func() {
		defer c.loops.Done()
		c.eventLoop(ctx)
	}()
	go func() {
		defer c.loops.Done()
		c.every(ctx, c.opts.TickInterval, c.tick)
	}()
	go func() {
		defer c.loops.Done()
		c.every(ctx, c.opts.HousekeepingInterval, func(context.Context) { c.housekeep() })
	}()
	return nil
}

// Stop halts the event source and waits for the loops and every in-flight
// job to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	slog.Info("coordinator stopping")
	cancel()
	c.source.Stop()
	c.loops.Wait()
	c.jobs.Wait()
	slog.Info("coordinator stopped")
}

func (c *Coordinator) eventLoop(ctx context.Context) {
	events := c.source.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Coordinator) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			fn(ctx)
			timer.Reset(interval)
		}
	}
}

func (c *Coordinator) handleEvent(ev Event) {
	if ev.IsDir {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Op {
	case OpCreate, OpModify:
		c.enqueueLocked(ev.Path)
	case OpMove:
		if ev.From != "" {
			if IsTempExtension(utils.Ext(ev.From)) {
				slog.Info("download renamed", "from", ev.From, "to", ev.Path)
			}
			c.forgetLocked(ev.From)
		}
		// new content under the destination name starts from a fresh baseline
		c.tracker.Remove(ev.Path)
		delete(c.deferrals, ev.Path)
		c.enqueueLocked(ev.Path)
	}
}

func (c *Coordinator) enqueueLocked(path string) {
	if !c.opts.Filter.Match(path) {
		return
	}
	if c.processed.Contains(path) || c.inflight.Contains(path) {
		return
	}
	if c.pending.Add(path) {
		slog.Debug("pending", "path", path)
	}
	c.abandoned.Remove(path)
}

func (c *Coordinator) forgetLocked(path string) {
	c.tracker.Remove(path)
	c.pending.Remove(path)
	delete(c.deferrals, path)
}

// tick observes every pending path once and starts a job for each path
// that became ready.
func (c *Coordinator) tick(ctx context.Context) {
	type ready struct {
		path    string
		verdict Verdict
	}
	var started []ready
	var gone []Result

	c.mu.Lock()
	for _, path := range c.pending.ToSlice() {
		if _, err := c.tracker.Observe(path); err != nil {
			if errors.Is(err, ErrNotFound) {
				c.forgetLocked(path)
				c.abandoned.Add(path)
				c.stats[OutcomeGone]++
				gone = append(gone, Result{Path: path, Outcome: OutcomeGone, Err: ErrGone})
				continue
			}
			slog.Warn("observe", "path", path, "error", err)
			continue
		}

		verdict, err := c.tracker.IsReady(path)
		if err != nil || !verdict.Ready() {
			continue
		}
		c.pending.Remove(path)
		c.inflight.Add(path)
		started = append(started, ready{path: path, verdict: verdict})
	}
	c.mu.Unlock()

	for _, r := range gone {
		slog.Debug("pending path vanished", "path", r.Path)
		c.publish(r)
	}

	for _, r := range started {
		if r.verdict == ReadyTimeout {
			slog.Warn("download timed out, processing anyway", "path", r.path)
		}
		c.jobs.Add(1)
		go func(path string, verdict Verdict) {
			defer c.jobs.Done()
			c.finish(c.process(ctx, path, verdict))
		}(r.path, r.verdict)
	}
}

// process runs outside the lock; it may hash for a long time or wait on a
// human.
func (c *Coordinator) process(ctx context.Context, path string, verdict Verdict) Result {
	res := Result{JobID: uuid.New().String(), Path: path, Verdict: verdict}
	log := slog.With("job", res.JobID, "path", path)
	log.Info("processing", "verdict", verdict)

	info, err := os.Stat(path)
	if err != nil {
		return c.failed(res, err)
	}

	if err := c.opts.Probe(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.failed(res, err)
		}
		res.Outcome = OutcomeDeferred
		res.Err = fmt.Errorf("%w: %w", ErrTransientAccess, err)
		return res
	}

	if info.Size() == 0 {
		res.Outcome = OutcomeSkipped
		return res
	}

	digest, err := c.hasher.Digest(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.failed(res, err)
		}
		return c.failed(res, fmt.Errorf("%w: %w", ErrHashFailure, err))
	}
	res.Digest = digest

	existing, err := c.catalog.FindByDigest(ctx, digest)
	if err != nil {
		res.Outcome = OutcomeDeferred
		res.Err = fmt.Errorf("%w: %w", ErrCatalogFailure, err)
		return res
	}

	if existing == nil {
		err = c.catalog.Insert(ctx, catalog.NewRecord(digest, path, info.Size()))
		switch {
		case err == nil:
			res.Outcome = OutcomeInserted
			return res
		case errors.Is(err, catalog.ErrDuplicateDigest):
			// another job inserted the same content first
			existing, err = c.catalog.FindByDigest(ctx, digest)
			if err != nil {
				res.Outcome = OutcomeDeferred
				res.Err = fmt.Errorf("%w: %w", ErrCatalogFailure, err)
				return res
			}
			if existing == nil {
				res.Outcome = OutcomeDeferred
				res.Err = fmt.Errorf("%w: digest %s neither insertable nor found", ErrCatalogFailure, digest)
				return res
			}
		default:
			res.Outcome = OutcomeDeferred
			res.Err = fmt.Errorf("%w: %w", ErrCatalogFailure, err)
			return res
		}
	}

	res.Existing = existing.FilePath
	if sameFile(existing.FilePath, path) {
		res.Outcome = OutcomeCatalogued
		return res
	}

	log.Info("duplicate", "existing", existing.FilePath, "digest", digest)
	decision, err := c.resolver.Resolve(ctx, path, existing.FilePath)
	if err != nil {
		log.Warn("conflict resolver failed, keeping file", "error", err)
		decision = resolver.Keep
	}

	if decision == resolver.Delete {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("delete duplicate: %w", err)
			return res
		}
		res.Outcome = OutcomeDeleted
		return res
	}
	res.Outcome = OutcomeKept
	return res
}

// failed classifies err as gone or failed.
func (c *Coordinator) failed(res Result, err error) Result {
	if errors.Is(err, fs.ErrNotExist) {
		res.Outcome = OutcomeGone
		res.Err = fmt.Errorf("%w: %w", ErrGone, err)
		return res
	}
	res.Outcome = OutcomeFailed
	res.Err = err
	return res
}

// finish applies the result to the shared state and publishes it.
func (c *Coordinator) finish(res Result) {
	c.mu.Lock()
	c.inflight.Remove(res.Path)

	if res.Outcome == OutcomeDeferred {
		c.deferrals[res.Path]++
		if c.deferrals[res.Path] > c.opts.MaxDeferrals {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("gave up after %d deferrals: %w", c.opts.MaxDeferrals, res.Err)
		} else {
			c.tracker.ResetStable(res.Path)
			c.pending.Add(res.Path)
		}
	}

	switch res.Outcome {
	case OutcomeDeferred:
	case OutcomeGone, OutcomeSkipped:
		// may come back with content
		c.forgetLocked(res.Path)
		c.abandoned.Add(res.Path)
	case OutcomeFailed:
		c.forgetLocked(res.Path)
		c.processed.Add(res.Path)
		c.abandoned.Add(res.Path)
	default:
		c.forgetLocked(res.Path)
		if res.Verdict == ReadyTimeout {
			// the download may still be growing; a later event re-tracks it
			c.abandoned.Add(res.Path)
			break
		}
		c.processed.Add(res.Path)
		c.abandoned.Remove(res.Path)
	}
	c.stats[res.Outcome]++
	c.mu.Unlock()

	c.publish(res)
}

func (c *Coordinator) publish(res Result) {
	attrs := []any{"job", res.JobID, "path", res.Path, "outcome", res.Outcome}
	if res.Digest != "" {
		attrs = append(attrs, "digest", res.Digest)
	}
	if res.Existing != "" {
		attrs = append(attrs, "existing", res.Existing)
	}

	switch res.Outcome {
	case OutcomeFailed:
		if errors.Is(res.Err, ErrCatalogFailure) {
			slog.Error("catalog unavailable", append(attrs, "error", res.Err)...)
		} else {
			slog.Error("processing failed", append(attrs, "error", res.Err)...)
		}
	case OutcomeDeferred:
		if errors.Is(res.Err, ErrCatalogFailure) {
			slog.Error("catalog unavailable, will retry", append(attrs, "error", res.Err)...)
		} else {
			slog.Warn("file not readable yet, will retry", append(attrs, "error", res.Err)...)
		}
	case OutcomeGone:
		slog.Debug("file gone", attrs...)
	default:
		slog.Info("processed", attrs...)
	}

	if c.opts.OnResult != nil {
		c.opts.OnResult(res)
	}
}

func (c *Coordinator) housekeep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := c.tracker.EvictStale(c.opts.StaleAfter)
	trimmed := c.processed.Trim(c.opts.ProcessedMax, c.opts.ProcessedKeep)
	c.abandoned.Trim(c.opts.ProcessedMax, c.opts.ProcessedKeep)

	// evicted paths restart from a fresh observation
	for path := range c.deferrals {
		if !c.pending.Contains(path) {
			delete(c.deferrals, path)
		}
	}

	slog.Info("housekeeping",
		"evicted", evicted,
		"trimmed", trimmed,
		"tracked", c.tracker.Len(),
		"pending", c.pending.Cardinality(),
		"processed", c.processed.Len(),
	)
}

// State reports where path stands.
func (c *Coordinator) State(path string) PathState {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.inflight.Contains(path):
		return Processing
	case c.pending.Contains(path):
		return Pending
	case c.abandoned.Contains(path):
		return Abandoned
	case c.processed.Contains(path):
		return Processed
	default:
		return Untracked
	}
}

// Stats returns how many results of each outcome were seen.
func (c *Coordinator) Stats() map[Outcome]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[Outcome]int, len(c.stats))
	for k, v := range c.stats {
		out[k] = v
	}
	return out
}

func (c *Coordinator) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Cardinality()
}

func sameFile(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
