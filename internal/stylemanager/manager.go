// Package stylemanager drives style loads against the engine and keeps the
// declared content applied across them.
package stylemanager

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-mapstyle/internal/engine"
	"github.com/joeblew999/plat-mapstyle/internal/logger"
	"github.com/joeblew999/plat-mapstyle/internal/metrics"
	"github.com/joeblew999/plat-mapstyle/internal/reconcile"
	"github.com/joeblew999/plat-mapstyle/internal/runloop"
	"github.com/joeblew999/plat-mapstyle/internal/signal"
	"github.com/joeblew999/plat-mapstyle/internal/style"
)

type loadRequest struct {
	id          uuid.UUID
	identity    style.Identity
	transition  *engine.Transition
	completions []Completion
	layersReady bool
	// reload is set when the load replaces a loaded style with the same identity.
	reload bool
}

// Manager owns the style load lifecycle. Every method, and every engine
// callback, must run on the engine's goroutine.
type Manager struct {
	engine     engine.StyleManager
	reconciler *reconcile.Reconciler
	affinity   runloop.Affinity
	log        *zap.SugaredLogger
	fsm        *fsm.FSM

	style    *MapStyle
	identity style.Identity
	tree     *style.Tree
	// configs is the import configuration last applied to the engine.
	configs []style.ImportConfiguration
	request *loadRequest

	rootLoaded *signal.CurrentValueSubject[bool]
	events     *signal.Subject[Event]
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Manager) { m.log = l }
}

// WithAffinity sets the owner check. Defaults to the constructing goroutine.
func WithAffinity(a runloop.Affinity) Option {
	return func(m *Manager) { m.affinity = a }
}

// WithReconciler supplies the reconciler, for example one sharing a source
// manager with background queues.
func WithReconciler(r *reconcile.Reconciler) Option {
	return func(m *Manager) { m.reconciler = r }
}

// LoadOption configures a single load.
type LoadOption func(*loadRequest)

// WithTransition applies t to the engine once the style root is parsed.
func WithTransition(t engine.Transition) LoadOption {
	return func(r *loadRequest) { r.transition = &t }
}

// New creates a Manager in the idle phase.
func New(eng engine.StyleManager, opts ...Option) *Manager {
	m := &Manager{
		engine:     eng,
		rootLoaded: signal.NewCurrentValueSubject(false),
		events:     signal.NewSubject[Event](nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.affinity == nil {
		m.affinity = runloop.Current()
	}
	if m.log == nil {
		m.log = logger.For(logger.ComponentStyleManager)
	}
	if m.reconciler == nil {
		m.reconciler = reconcile.New(eng, reconcile.WithAffinity(m.affinity), reconcile.WithLogger(m.log))
	}

	m.fsm = fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: EventLoad, Src: []string{string(PhaseIdle), string(PhaseLoading), string(PhaseLoaded)}, Dst: string(PhaseLoading)},
			{Name: EventComplete, Src: []string{string(PhaseLoading)}, Dst: string(PhaseLoaded)},
			{Name: EventFail, Src: []string{string(PhaseLoading)}, Dst: string(PhaseIdle)},
			{Name: EventRevert, Src: []string{string(PhaseLoading)}, Dst: string(PhaseLoaded)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.log.Debugw("style phase changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	return m
}

// Phase returns the current load phase.
func (m *Manager) Phase() Phase {
	return Phase(m.fsm.Current())
}

// Identity returns the identity being loaded or loaded. It is zero while idle.
func (m *Manager) Identity() style.Identity {
	return m.identity
}

// Style returns the last declared style.
func (m *Manager) Style() (MapStyle, bool) {
	if m.style == nil {
		return MapStyle{}, false
	}
	return *m.style, true
}

// Mounted returns the content tree currently applied to the engine.
func (m *Manager) Mounted() *style.Tree {
	return m.reconciler.Mounted()
}

// StyleRootLoaded emits true once the style document is parsed and the
// declared content applied, and false while a load is in progress or after
// it failed. Observers receive the current value on subscription.
func (m *Manager) StyleRootLoaded() signal.Signal[bool] {
	return signal.SkipRepeats(m.rootLoaded.Signal())
}

// Events emits load lifecycle events and reconcile reports.
func (m *Manager) Events() signal.Signal[Event] {
	return m.events.Signal()
}

// SetStyle declares s without waiting for the outcome.
func (m *Manager) SetStyle(s MapStyle) {
	m.Load(s, nil)
}

// SetContent replaces the runtime content of the current style.
func (m *Manager) SetContent(content style.Content) error {
	m.affinity.Check("stylemanager.SetContent")
	if m.style == nil {
		return ErrNoStyle
	}
	s := *m.style
	s.Content = content
	m.Load(s, nil)
	return nil
}

// Load declares s. A changed identity, or any identity while idle, starts an
// engine load and cancels the one in flight. Otherwise only the import
// configuration and content differences are applied. completion runs once
// the style is fully loaded, or with the load error.
func (m *Manager) Load(s MapStyle, completion Completion, opts ...LoadOption) {
	m.affinity.Check("stylemanager.Load")

	if m.Phase() == PhaseIdle || s.Identity() != m.identity {
		m.startLoad(s, completion, false, opts)
		return
	}

	o := &loadRequest{}
	for _, opt := range opts {
		opt(o)
	}
	m.style = &s
	m.tree = style.Build(s.Content)

	switch {
	case m.Phase() == PhaseLoaded:
		if o.transition != nil {
			m.engine.SetTransition(*o.transition)
		}
		m.applyContent(uuid.Nil)
		if completion != nil {
			completion(nil)
		}
	case m.request.layersReady:
		if o.transition != nil {
			m.engine.SetTransition(*o.transition)
		}
		m.applyContent(m.request.id)
		m.request.completions = append(m.request.completions, completion)
	default:
		// Applied when the layers are ready.
		if o.transition != nil {
			m.request.transition = o.transition
		}
		m.request.completions = append(m.request.completions, completion)
	}
}

// Reload loads the current identity again. If the reload of a loaded style
// fails the manager returns to the loaded phase.
func (m *Manager) Reload(completion Completion) {
	m.affinity.Check("stylemanager.Reload")
	if m.style == nil {
		if completion != nil {
			completion(ErrNoStyle)
		}
		return
	}
	m.startLoad(*m.style, completion, m.Phase() == PhaseLoaded, nil)
}

func (m *Manager) startLoad(s MapStyle, completion Completion, reload bool, opts []LoadOption) {
	m.cancelRequest(metrics.LoadSuperseded)

	req := &loadRequest{id: uuid.New(), identity: s.Identity(), reload: reload}
	if completion != nil {
		req.completions = append(req.completions, completion)
	}
	for _, opt := range opts {
		opt(req)
	}

	m.style = &s
	m.identity = req.identity
	m.tree = style.Build(s.Content)
	m.request = req

	m.transition(EventLoad)
	m.rootLoaded.Set(false)
	m.log.Infow("loading style", "style", req.identity.String(), "request", req.id)
	m.emit(Event{Kind: EventLoadStarted, RequestID: req.id, Identity: req.identity})

	m.engine.LoadStyle(req.identity, engine.LoadCallbacks{
		OnLayersReady: func() { m.layersReady(req) },
		OnCompleted:   func() { m.completed(req) },
		OnCancelled:   func() { m.failed(req, &CancelError{Identity: req.identity}) },
		OnError:       func(err error) { m.failed(req, err) },
	})
}

// cancelRequest delivers a CancelError to the completions of the load in
// flight. Later engine callbacks for it are ignored.
func (m *Manager) cancelRequest(outcome string) {
	req := m.request
	if req == nil {
		return
	}
	m.request = nil
	err := &CancelError{Identity: req.identity}
	metrics.RecordStyleLoad(outcome)
	m.log.Infow("style load superseded", "style", req.identity.String(), "request", req.id)
	m.emit(Event{Kind: EventLoadCancelled, RequestID: req.id, Identity: req.identity, Err: err})
	flush(req.completions, err)
}

func (m *Manager) layersReady(req *loadRequest) {
	if m.request != req || req.layersReady {
		return
	}
	m.affinity.Check("stylemanager.layersReady")
	req.layersReady = true
	if req.transition != nil {
		m.engine.SetTransition(*req.transition)
	}
	m.emit(Event{Kind: EventLayersReady, RequestID: req.id, Identity: req.identity})

	// The new style root replaced everything applied before.
	m.reconciler.Reset()
	m.configs = nil
	m.applyContent(req.id)
	m.rootLoaded.Set(true)
}

func (m *Manager) completed(req *loadRequest) {
	if m.request != req {
		return
	}
	m.affinity.Check("stylemanager.completed")
	if !req.layersReady {
		m.layersReady(req)
	}
	m.request = nil
	m.transition(EventComplete)
	m.rootLoaded.Set(true)
	metrics.RecordStyleLoad(metrics.LoadCompleted)
	m.log.Infow("style loaded", "style", req.identity.String(), "request", req.id)
	m.emit(Event{Kind: EventLoadCompleted, RequestID: req.id, Identity: req.identity})
	flush(req.completions, nil)
}

func (m *Manager) failed(req *loadRequest, err error) {
	if m.request != req {
		return
	}
	m.affinity.Check("stylemanager.failed")
	m.request = nil

	kind, outcome := EventLoadFailed, metrics.LoadFailed
	if errors.Is(err, ErrCancelled) {
		kind, outcome = EventLoadCancelled, metrics.LoadCancelled
	}
	if req.reload {
		m.transition(EventRevert)
	} else {
		m.transition(EventFail)
		m.identity = style.Identity{}
	}
	m.rootLoaded.Set(m.Phase() == PhaseLoaded)
	metrics.RecordStyleLoad(outcome)
	m.log.Errorw("style load failed", "style", req.identity.String(), "request", req.id, "error", err)
	m.emit(Event{Kind: kind, RequestID: req.id, Identity: req.identity, Err: err})
	flush(req.completions, err)
}

// applyContent reconciles import configuration and content against what the
// engine last received.
func (m *Manager) applyContent(requestID uuid.UUID) {
	next := style.CloneConfigurations(m.style.Configuration)
	if err := m.reconciler.ReconcileImportConfigs(m.configs, next); err != nil {
		m.log.Warnw("import configuration partially applied", "error", err)
	}
	m.configs = next

	report := m.reconciler.Reconcile(m.tree)
	m.emit(Event{Kind: EventReconciled, RequestID: requestID, Identity: m.identity, Report: report, Err: report.Err})
}

func (m *Manager) transition(event string) {
	err := m.fsm.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		m.log.Errorw("invalid style phase transition", "event", event, "phase", m.fsm.Current(), "error", err)
	}
}

func (m *Manager) emit(e Event) {
	e.Phase = m.Phase()
	m.events.Send(e)
}

func flush(completions []Completion, err error) {
	for _, c := range completions {
		if c != nil {
			c(err)
		}
	}
}
