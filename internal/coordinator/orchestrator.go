package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/compute-sessions/internal/broadcast"
	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
	"github.com/AltairaLabs/compute-sessions/internal/output"
	"github.com/AltairaLabs/compute-sessions/internal/types"
)

// Options tunes an Orchestrator. Zero values use the defaults from the config package.
type Options struct {
	Output             output.Config
	SubscriberBuffer   int
	DispatchTimeout    time.Duration
	SignalTimeout      time.Duration
	ReadyTimeout       time.Duration
	CleanupConcurrency int
	Logger             *slog.Logger
	// Now replaces time.Now, for tests
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Output.FlushSize <= 0 {
		o.Output.FlushSize = config.DefaultFlushSize
	}
	if o.Output.FlushInterval <= 0 {
		o.Output.FlushInterval = config.DefaultFlushInterval
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = config.DefaultSubscriberBuffer
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = config.DefaultDispatchTimeout
	}
	if o.SignalTimeout <= 0 {
		o.SignalTimeout = config.DefaultSignalTimeout
	}
	if o.CleanupConcurrency <= 0 {
		o.CleanupConcurrency = config.DefaultCleanupConcurrency
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// sessionEntry is the live, in-process state of one session. mu serializes
// every state transition of that session; it is never held across backend I/O.
type sessionEntry struct {
	mu     sync.Mutex
	handle types.Handle
	router *broadcast.Router

	// dispatching is set while a batch is in flight outside the lock
	dispatching bool
	// pendingReady records a ready signal that arrived during a dispatch
	pendingReady bool
	removed      bool
	lastActivity time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator owns the session state machine. Operations on different
// sessions never contend; only session id allocation is serialized.
type Orchestrator struct {
	store   SessionStore
	backend ComputeBackend
	opts    Options
	logger  *slog.Logger

	newMu sync.Mutex

	mu      sync.RWMutex
	entries map[int]*sessionEntry

	readerCtx    context.Context
	readerCancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator over a store and a compute backend
func NewOrchestrator(store SessionStore, backend ComputeBackend, opts Options) *Orchestrator {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:        store,
		backend:      backend,
		opts:         opts,
		logger:       opts.Logger,
		entries:      make(map[int]*sessionEntry),
		readerCtx:    ctx,
		readerCancel: cancel,
	}
}

func (o *Orchestrator) entry(id int) (*sessionEntry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.entries[id]
	return e, ok
}

// lookup returns the live entry for id. A session present in the store but
// without a live entry has no process this orchestrator can reach.
func (o *Orchestrator) lookup(ctx context.Context, id int) (*sessionEntry, error) {
	if e, ok := o.entry(id); ok {
		return e, nil
	}
	if _, err := o.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrDead
}

// NewSession spawns a compute process and records a ready session for it.
// No record is created when the spawn fails.
func (o *Orchestrator) NewSession(ctx context.Context) (int, error) {
	o.newMu.Lock()
	defer o.newMu.Unlock()

	sessions, err := o.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	id := 0
	for _, s := range sessions {
		if s.ID >= id {
			id = s.ID + 1
		}
	}

	handle, err := o.backend.Spawn(ctx, types.SpawnRequest{SessionID: id})
	if err == nil && !handle.Spawned() {
		err = errors.New("backend reported a failed spawn")
	}
	if err != nil {
		o.logger.Error("Failed to spawn compute process", "session_id", id, "error", err)
		return 0, &ProvisioningError{SessionID: id, Err: err}
	}

	readerCtx, cancel := context.WithCancel(o.readerCtx)
	frames, err := o.backend.Frames(readerCtx, handle)
	if err != nil {
		cancel()
		o.killQuietly(ctx, id, handle)
		return 0, &ProvisioningError{SessionID: id, Err: fmt.Errorf("failed to attach to process output: %w", err)}
	}

	session := &Session{
		ID:               id,
		PID:              handle.PID,
		Path:             handle.Path,
		URL:              handle.Endpoint,
		Status:           SessionStatusReady,
		NextExecID:       0,
		LastActiveExecID: NoExecID,
		StartTime:        o.opts.Now(),
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		cancel()
		o.killQuietly(ctx, id, handle)
		return 0, fmt.Errorf("failed to store session %d: %w", id, err)
	}

	e := &sessionEntry{
		handle:       handle,
		router:       broadcast.NewRouter(o.opts.SubscriberBuffer, o.logger.With("session_id", id)),
		lastActivity: o.opts.Now(),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	o.mu.Lock()
	o.entries[id] = e
	o.mu.Unlock()

	go o.readLoop(readerCtx, id, e, frames)

	o.logger.Info("Session created", "session_id", id, "pid", handle.PID, "endpoint", handle.Endpoint)
	return id, nil
}

// Submit records a new cell. A ready session dispatches it immediately and
// reports "running"; a running session only stores it and reports
// "enqueued"; a dead session reports "dead" without changing anything.
func (o *Orchestrator) Submit(ctx context.Context, id int, code string) (SubmitResult, error) {
	e, err := o.lookup(ctx, id)
	if errors.Is(err, ErrDead) {
		return SubmitResult{ExecID: NoExecID, Status: config.StatusDead}, nil
	}
	if err != nil {
		return SubmitResult{ExecID: NoExecID}, err
	}

	e.mu.Lock()
	session, err := o.store.GetSession(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return SubmitResult{ExecID: NoExecID}, err
	}

	switch session.Status {
	case SessionStatusDead:
		e.mu.Unlock()
		return SubmitResult{ExecID: NoExecID, Status: config.StatusDead}, nil

	case SessionStatusRunning:
		execID, err := o.createCellLocked(ctx, session, code)
		e.mu.Unlock()
		if err != nil {
			return SubmitResult{ExecID: NoExecID}, err
		}
		o.logger.Debug("Cell enqueued", "session_id", id, "exec_id", execID)
		return SubmitResult{ExecID: execID, Status: config.StatusEnqueued}, nil

	case SessionStatusReady:
		execID, err := o.createCellLocked(ctx, session, code)
		if err != nil {
			e.mu.Unlock()
			return SubmitResult{ExecID: NoExecID}, err
		}
		// cells left behind by an earlier failed submit go out with this one
		cells, err := o.store.GetCellsAfter(ctx, id, session.LastActiveExecID)
		if err != nil {
			e.mu.Unlock()
			return SubmitResult{ExecID: execID}, fmt.Errorf("failed to load pending cells of session %d: %w", id, err)
		}
		batch := cellBatch(cells)
		last := batch[len(batch)-1].ExecID
		running := SessionStatusRunning
		if err := o.store.UpdateSession(ctx, id, SessionUpdate{Status: &running, LastActiveExecID: &last}); err != nil {
			e.mu.Unlock()
			return SubmitResult{ExecID: execID}, fmt.Errorf("failed to mark session %d running: %w", id, err)
		}
		e.dispatching = true
		e.lastActivity = o.opts.Now()
		e.mu.Unlock()

		if err := o.dispatch(ctx, id, e, batch); err != nil {
			return SubmitResult{ExecID: execID, Status: config.StatusDead}, err
		}
		return SubmitResult{ExecID: execID, Status: config.StatusRunning}, nil
	}

	e.mu.Unlock()
	return SubmitResult{ExecID: NoExecID}, fmt.Errorf("session %d has invalid status %q", id, session.Status)
}

// createCellLocked stores code under the session's next exec id. The store
// advances the counter with the insert.
func (o *Orchestrator) createCellLocked(ctx context.Context, session *Session, code string) (int, error) {
	execID := session.NextExecID
	if err := o.store.CreateCell(ctx, session.ID, execID, code); err != nil {
		return 0, fmt.Errorf("failed to store cell %d of session %d: %w", execID, session.ID, err)
	}
	return execID, nil
}

func cellBatch(cells []*Cell) []types.CellRequest {
	batch := make([]types.CellRequest, len(cells))
	for i, c := range cells {
		batch[i] = types.CellRequest{ExecID: c.ExecID, Code: c.Code}
	}
	return batch
}

// OnProcessReady handles a compute process reporting that it finished its
// batch. Cells stored after the last dispatched one are sent as one batch,
// which is returned; with nothing pending the session becomes ready. A ready
// signal for a session that is not running returns ErrProtocolViolation and
// changes nothing.
func (o *Orchestrator) OnProcessReady(ctx context.Context, id int) ([]types.CellRequest, error) {
	e, err := o.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.dispatching {
		// the process answered before its dispatch call returned
		e.pendingReady = true
		e.mu.Unlock()
		return nil, nil
	}

	session, err := o.store.GetSession(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	switch session.Status {
	case SessionStatusRunning:
	case SessionStatusDead:
		e.mu.Unlock()
		return nil, ErrDead
	default:
		e.mu.Unlock()
		o.logger.Warn("Ready signal for a session that is not running",
			"session_id", id, "status", session.Status)
		return nil, fmt.Errorf("%w: ready signal while %s", ErrProtocolViolation, session.Status)
	}

	batch, err := o.takeBacklogLocked(ctx, e, session)
	e.mu.Unlock()
	if err != nil || len(batch) == 0 {
		return nil, err
	}

	if err := o.dispatch(ctx, id, e, batch); err != nil {
		return batch, err
	}
	return batch, nil
}

// takeBacklogLocked moves a running session forward: pending cells become the
// next batch, or the session becomes ready when there are none.
func (o *Orchestrator) takeBacklogLocked(ctx context.Context, e *sessionEntry, session *Session) ([]types.CellRequest, error) {
	cells, err := o.store.GetCellsAfter(ctx, session.ID, session.LastActiveExecID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending cells of session %d: %w", session.ID, err)
	}

	if len(cells) == 0 {
		ready := SessionStatusReady
		if err := o.store.UpdateSession(ctx, session.ID, SessionUpdate{Status: &ready}); err != nil {
			return nil, fmt.Errorf("failed to mark session %d ready: %w", session.ID, err)
		}
		o.logger.Debug("Session ready", "session_id", session.ID)
		return nil, nil
	}

	batch := cellBatch(cells)
	last := batch[len(batch)-1].ExecID
	if err := o.store.UpdateSession(ctx, session.ID, SessionUpdate{LastActiveExecID: &last}); err != nil {
		return nil, fmt.Errorf("failed to advance last active exec id of session %d: %w", session.ID, err)
	}
	e.dispatching = true
	e.lastActivity = o.opts.Now()
	return batch, nil
}

// dispatch sends a batch with the entry already marked dispatching. A ready
// signal that arrived while the batch was in flight is applied afterwards.
func (o *Orchestrator) dispatch(ctx context.Context, id int, e *sessionEntry, batch []types.CellRequest) error {
	for len(batch) > 0 {
		// a caller going away must not abandon a half-sent batch
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.DispatchTimeout)
		err := o.backend.Dispatch(dctx, e.handle, batch)
		cancel()

		e.mu.Lock()
		e.dispatching = false
		if err != nil {
			e.pendingReady = false
			o.markDeadLocked(ctx, id, e, "dispatch failed")
			e.mu.Unlock()
			dispatchErr := &DispatchError{SessionID: id, Op: "dispatch", Err: err}
			o.logger.Error("Dispatch failed", "session_id", id, "timeout", dispatchErr.Timeout(), "error", err)
			return dispatchErr
		}
		o.logger.Debug("Batch dispatched", "session_id", id,
			"first_exec_id", batch[0].ExecID, "last_exec_id", batch[len(batch)-1].ExecID)

		if !e.pendingReady || e.removed {
			e.mu.Unlock()
			return nil
		}
		e.pendingReady = false

		session, err := o.store.GetSession(ctx, id)
		if err == nil && session.Status == SessionStatusRunning {
			batch, err = o.takeBacklogLocked(ctx, e, session)
		} else {
			batch = nil
		}
		e.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// markDeadLocked forces a session to dead. Store failures are logged only.
func (o *Orchestrator) markDeadLocked(ctx context.Context, id int, e *sessionEntry, reason string) {
	if e.removed {
		return
	}
	dead := SessionStatusDead
	if err := o.store.UpdateSession(ctx, id, SessionUpdate{Status: &dead}); err != nil {
		o.logger.Error("Failed to mark session dead", "session_id", id, "error", err)
		return
	}
	o.logger.Info("Session dead", "session_id", id, "reason", reason)
}

// Interrupt forwards SIGINT semantics to the session's process. A process
// that cannot be reached leaves the session dead.
func (o *Orchestrator) Interrupt(ctx context.Context, id int) error {
	e, err := o.lookup(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	session, err := o.store.GetSession(ctx, id)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if session.Status == SessionStatusDead {
		return ErrDead
	}

	if err := o.signal(ctx, e.handle, types.SignalInterrupt); err != nil {
		e.mu.Lock()
		o.markDeadLocked(ctx, id, e, "interrupt failed")
		e.mu.Unlock()
		return &DispatchError{SessionID: id, Op: "interrupt", Err: err}
	}
	o.logger.Info("Session interrupted", "session_id", id)
	return nil
}

// Kill forces the session dead and signals its process to terminate. The
// signal is best effort; the status change is not.
func (o *Orchestrator) Kill(ctx context.Context, id int) error {
	e, err := o.lookup(ctx, id)
	if errors.Is(err, ErrDead) {
		return nil
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	o.markDeadLocked(ctx, id, e, "killed")
	e.mu.Unlock()

	o.killQuietly(ctx, id, e.handle)
	return nil
}

// Teardown kills the session's process and removes the session and its cells
func (o *Orchestrator) Teardown(ctx context.Context, id int) error {
	o.mu.Lock()
	e, ok := o.entries[id]
	delete(o.entries, id)
	o.mu.Unlock()

	if !ok {
		if _, err := o.store.GetSession(ctx, id); err != nil {
			return err
		}
		if err := o.store.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("failed to delete session %d: %w", id, err)
		}
		return nil
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	o.killQuietly(ctx, id, e.handle)
	e.cancel()
	<-e.done
	e.router.Close()

	if err := o.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete session %d: %w", id, err)
	}
	o.logger.Info("Session removed", "session_id", id)
	return nil
}

// CleanupAll kills the process of every stored session and deletes the
// records. Persisted handles are not trusted across restarts, so kill
// failures are ignored.
func (o *Orchestrator) CleanupAll(ctx context.Context) error {
	sessions, err := o.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.CleanupConcurrency)
	for _, s := range sessions {
		g.Go(func() error {
			o.killQuietly(gctx, s.ID, types.Handle{PID: s.PID, Path: s.Path, Endpoint: s.URL})
			if err := o.store.DeleteSession(gctx, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("failed to delete session %d: %w", s.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(sessions) > 0 {
		o.logger.Info("Cleaned up stale sessions", "count", len(sessions))
	}
	return nil
}

// Shutdown tears down every live session
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	ids := make([]int, 0, len(o.entries))
	for id := range o.entries {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := o.Teardown(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	o.readerCancel()
	return errors.Join(errs...)
}

func (o *Orchestrator) signal(ctx context.Context, h types.Handle, sig types.Signal) error {
	sctx, cancel := context.WithTimeout(ctx, o.opts.SignalTimeout)
	defer cancel()
	return o.backend.Signal(sctx, h, sig)
}

func (o *Orchestrator) killQuietly(ctx context.Context, id int, h types.Handle) {
	if err := o.signal(ctx, h, types.SignalKill); err != nil {
		o.logger.Debug("Kill signal failed", "session_id", id, "pid", h.PID, "error", err)
	}
}

// Subscribe registers a subscriber for a session's output
func (o *Orchestrator) Subscribe(ctx context.Context, id int) (*broadcast.Subscription, error) {
	e, err := o.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.router.Subscribe(), nil
}

// Unsubscribe removes a subscriber. Unknown sessions and subscribers are ignored.
func (o *Orchestrator) Unsubscribe(id int, subscriberID string) {
	if e, ok := o.entry(id); ok {
		e.router.Unsubscribe(subscriberID)
	}
}

// Relay publishes a subscriber's event to every other subscriber of the session
func (o *Orchestrator) Relay(ctx context.Context, id int, from string, msg broadcast.Message) error {
	e, err := o.lookup(ctx, id)
	if err != nil {
		return err
	}
	e.router.BroadcastOther(msg, from)
	return nil
}

// GetSession returns the stored session
func (o *Orchestrator) GetSession(ctx context.Context, id int) (*Session, error) {
	return o.store.GetSession(ctx, id)
}

// ListSessions returns every stored session
func (o *Orchestrator) ListSessions(ctx context.Context) ([]*Session, error) {
	return o.store.ListSessions(ctx)
}

// Cells returns every cell of a session with its output
func (o *Orchestrator) Cells(ctx context.Context, id int) ([]*Cell, error) {
	if _, err := o.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return o.store.GetCells(ctx, id)
}
