// Package policy implements the transition engine: a stateless evaluator
// that decides whether a manifest admits a state transition. It performs no
// I/O and is fully deterministic given its inputs.
package policy

import (
	"fmt"

	oerrors "github.com/agentlegible/orchestrator/internal/errors"
	"github.com/agentlegible/orchestrator/pkg/types"
)

// Gate is an additional policy predicate evaluated after the structural
// transition checks. Gates run in registration order; the first denial wins
// and its reason is surfaced to the caller. New manifests can rely on extra
// gates being registered without any engine changes.
type Gate interface {
	// Name identifies the gate in deny reasons and logs.
	Name() string

	// Check returns nil to admit the transition or a policy error to deny it.
	Check(m *types.Manifest, fromState, toState string) error
}

// Engine evaluates transitions against a manifest's state graph and an
// ordered list of gates.
type Engine struct {
	gates []Gate
}

// NewEngine creates a transition engine with the given gates, evaluated in
// order after the structural checks.
func NewEngine(gates ...Gate) *Engine {
	return &Engine{gates: gates}
}

// DefaultGates returns the built-in gate list: entering "published"
// requires coming from "approved".
func DefaultGates() []Gate {
	return []Gate{RequireFrom{To: "published", From: "approved"}}
}

// RegisterGate appends a gate to the evaluation list.
func (e *Engine) RegisterGate(g Gate) {
	e.gates = append(e.gates, g)
}

// CheckTransition decides whether the manifest admits fromState -> toState.
// Check order: both states declared, edge present in the transition graph,
// then each gate in turn.
func (e *Engine) CheckTransition(m *types.Manifest, fromState, toState string) error {
	if !m.StateAllowed(fromState) {
		return oerrors.NewPolicyViolation(oerrors.CodeStateNotAllowed,
			fmt.Sprintf("state %q not allowed by manifest %q", fromState, m.Name))
	}
	if !m.StateAllowed(toState) {
		return oerrors.NewPolicyViolation(oerrors.CodeStateNotAllowed,
			fmt.Sprintf("state %q not allowed by manifest %q", toState, m.Name))
	}

	allowed := false
	for _, next := range m.Transitions[fromState] {
		if next == toState {
			allowed = true
			break
		}
	}
	if !allowed {
		return oerrors.NewPolicyViolation(oerrors.CodeTransitionNotAllowed,
			fmt.Sprintf("transition %q -> %q not allowed by manifest %q", fromState, toState, m.Name))
	}

	for _, gate := range e.gates {
		if err := gate.Check(m, fromState, toState); err != nil {
			return err
		}
	}
	return nil
}

// CheckActor enforces the manifest's agent permissions for an operation.
// Human and system actors are unrestricted; agents are restricted only when
// the manifest declares an agent_permissions map.
func CheckActor(m *types.Manifest, actor types.Actor, operation string) error {
	if actor.Type != types.ActorAgent || len(m.AgentPermissions) == 0 {
		return nil
	}
	for _, op := range m.AgentPermissions[actor.ID] {
		if op == operation {
			return nil
		}
	}
	return oerrors.NewPolicyViolation(oerrors.CodeActorNotPermitted,
		fmt.Sprintf("agent %q not permitted to %s under manifest %q", actor.ID, operation, m.Name))
}

// RequireFrom denies entry into state To unless the transition originates
// from state From. This is the publish-style gate: the terminal publication
// state demands a designated prerequisite state.
type RequireFrom struct {
	To   string
	From string
}

// Name identifies the gate.
func (g RequireFrom) Name() string {
	return fmt.Sprintf("require-from(%s<-%s)", g.To, g.From)
}

// Check denies entering g.To from anywhere but g.From.
func (g RequireFrom) Check(m *types.Manifest, fromState, toState string) error {
	if toState == g.To && fromState != g.From {
		return oerrors.NewPolicyViolation(oerrors.CodeGateDenied,
			fmt.Sprintf("%s gate: must be in %q before entering %q", g.Name(), g.From, g.To))
	}
	return nil
}
