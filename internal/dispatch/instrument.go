package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/solalang/opcore/internal/bytecode"
)

// DebugState is the run state a debug session sitting on top of the
// Instrumented tier can be in.
type DebugState int

const (
	StateRunning DebugState = iota
	StatePaused
	StateStepping
	StateTerminated
)

// StepAction is the granularity requested of the next resume.
type StepAction int

const (
	StepNone StepAction = iota
	StepInto
	StepOver
	StepOut
)

// EventType classifies a DebugEvent sent out over InstrumentHooks.Events.
type EventType int

const (
	EventStopped EventType = iota
	EventContinued
	EventBreakpointHit
	EventStep
	EventException
	EventTerminated
)

// DebugEvent is one notification a debug session observes while a
// RootCallTarget runs under the Instrumented tier.
type DebugEvent struct {
	Type   EventType
	Bci    int
	Reason string
	SeqID  int64
}

// Breakpoint is a single stop condition registered against a bci in a
// given RootProgram. Condition, when non-empty, is a guest-language
// expression text the caller is responsible for evaluating (opcore
// itself has no expression evaluator); HitCondition gates on a hit
// count instead ("hit every Nth time").
type Breakpoint struct {
	ID           int
	Bci          int
	Condition    string
	HitCondition int64
	hitCount     int64
	Enabled      bool
}

// BreakpointManager tracks the breakpoints active against one
// RootProgram's bytecode, indexed by bci for O(1) lookup from the
// dispatch loop's instruction-enter hook.
type BreakpointManager struct {
	mu     sync.RWMutex
	byID   map[int]*Breakpoint
	byBci  map[int][]*Breakpoint
	nextID int
}

func NewBreakpointManager() *BreakpointManager {
	return &BreakpointManager{
		byID:  make(map[int]*Breakpoint),
		byBci: make(map[int][]*Breakpoint),
	}
}

func (m *BreakpointManager) Add(bci int) *Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	bp := &Breakpoint{ID: m.nextID, Bci: bci, Enabled: true}
	m.byID[bp.ID] = bp
	m.byBci[bci] = append(m.byBci[bci], bp)
	return bp
}

func (m *BreakpointManager) AddConditional(bci int, condition string) *Breakpoint {
	bp := m.Add(bci)
	bp.Condition = condition
	return bp
}

func (m *BreakpointManager) Remove(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	bp, ok := m.byID[id]
	if !ok {
		return false
	}
	delete(m.byID, id)
	list := m.byBci[bp.Bci]
	for i, b := range list {
		if b.ID == id {
			m.byBci[bp.Bci] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return true
}

// At reports whether bci has an enabled breakpoint that should fire
// right now, bumping its hit counter as a side effect.
func (m *BreakpointManager) At(bci int) (*Breakpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bp := range m.byBci[bci] {
		if !bp.Enabled {
			continue
		}
		bp.hitCount++
		if bp.HitCondition > 0 && bp.hitCount%bp.HitCondition != 0 {
			continue
		}
		return bp, true
	}
	return nil, false
}

// InstrumentHooks is what RootCallTarget.loopInstrumented calls at
// every instruction boundary: breakpoint checks on Enter, stepping
// control on Leave, and exception notification on Exit. A caller not
// interested in hit-and-block semantics can install one with a nil
// pause/resume pair, in which case breakpoints still emit events but
// never block.
type InstrumentHooks struct {
	mu          sync.Mutex
	state       DebugState
	stepAction  StepAction
	breakpoints *BreakpointManager
	events      chan DebugEvent
	resume      chan struct{}
	seq         atomic.Int64
}

func NewInstrumentHooks() *InstrumentHooks {
	return &InstrumentHooks{
		state:       StateRunning,
		breakpoints: NewBreakpointManager(),
		events:      make(chan DebugEvent, 64),
		resume:      make(chan struct{}),
	}
}

func (h *InstrumentHooks) Breakpoints() *BreakpointManager { return h.breakpoints }

func (h *InstrumentHooks) Events() <-chan DebugEvent { return h.events }

func (h *InstrumentHooks) emit(ev DebugEvent) {
	ev.SeqID = h.seq.Add(1)
	select {
	case h.events <- ev:
	default:
	}
}

// Enter runs before an instruction executes. It blocks the calling
// goroutine when a breakpoint fires or a step was requested, until
// Continue/StepInto/StepOver/StepOut releases it.
func (h *InstrumentHooks) Enter(bci int, ins *bytecode.Instruction) {
	h.mu.Lock()
	stepping := h.stepAction != StepNone
	h.mu.Unlock()

	if bp, hit := h.breakpoints.At(bci); hit {
		h.emit(DebugEvent{Type: EventBreakpointHit, Bci: bci, Reason: "breakpoint"})
		_ = bp
		h.pause()
		return
	}
	if stepping {
		h.emit(DebugEvent{Type: EventStep, Bci: bci, Reason: "step"})
		h.pause()
	}
}

func (h *InstrumentHooks) Exit(bci int, ins *bytecode.Instruction, err error) {
	if err != nil {
		h.emit(DebugEvent{Type: EventException, Bci: bci, Reason: err.Error()})
	}
}

func (h *InstrumentHooks) Leave(bci int, ins *bytecode.Instruction) {}

func (h *InstrumentHooks) pause() {
	h.mu.Lock()
	h.state = StatePaused
	ch := make(chan struct{})
	h.resume = ch
	h.mu.Unlock()
	h.emit(DebugEvent{Type: EventStopped, Bci: 0, Reason: "paused"})
	<-ch
}

func (h *InstrumentHooks) release(next StepAction) {
	h.mu.Lock()
	h.state = StateRunning
	h.stepAction = next
	ch := h.resume
	h.mu.Unlock()
	close(ch)
}

func (h *InstrumentHooks) Continue() { h.release(StepNone) }
func (h *InstrumentHooks) StepInto() { h.release(StepInto) }
func (h *InstrumentHooks) StepOver() { h.release(StepOver) }
func (h *InstrumentHooks) StepOut()  { h.release(StepOut) }

func (h *InstrumentHooks) State() DebugState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
