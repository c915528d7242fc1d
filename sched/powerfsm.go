package sched

import (
	"fmt"

	"github.com/qmuntal/stateless"
)

// Per-machine power transition machine. A machine is either steady in its
// current power state or transitioning toward a target; while transitioning
// it must not receive placements, migrations, or further SetPowerState
// requests.
const (
	powerSteady        = "steady"
	powerTransitioning = "transitioning"

	triggerBegin    = "begin"
	triggerComplete = "complete"
)

type powerMachine struct {
	fsm    *stateless.StateMachine
	target PowerState
}

func newPowerMachine() *powerMachine {
	p := &powerMachine{}
	p.fsm = stateless.NewStateMachine(powerSteady)
	p.fsm.Configure(powerSteady).
		Permit(triggerBegin, powerTransitioning)
	p.fsm.Configure(powerTransitioning).
		Permit(triggerComplete, powerSteady)
	return p
}

// begin records the start of a transition toward target. Returns an error
// if a transition is already in flight (the caller treats this as
// transiently busy, not a bug).
func (p *powerMachine) begin(target PowerState) error {
	if p.transitioning() {
		return fmt.Errorf("power transition to %s already in flight", p.target)
	}
	if err := p.fsm.Fire(triggerBegin); err != nil {
		return err
	}
	p.target = target
	return nil
}

// complete ends the in-flight transition. Returns false when no transition
// is in flight, so duplicate completion callbacks are no-ops.
func (p *powerMachine) complete() bool {
	if !p.transitioning() {
		return false
	}
	if err := p.fsm.Fire(triggerComplete); err != nil {
		panic(fmt.Sprintf("sched: power fsm complete: %v", err))
	}
	return true
}

func (p *powerMachine) transitioning() bool {
	return p.fsm.MustState() == powerTransitioning
}
