package pipeline

import "context"

// ErrorHandler decides what happens to an item whose node invocation
// failed, after any configured retries are exhausted (spec §4.7(b),
// §6). Implementations must be safe for concurrent use.
type ErrorHandler interface {
	Handle(ctx context.Context, nodeID string, item any, err error) ErrorDecision
}

// ErrorHandlerFunc adapts a plain function to ErrorHandler.
type ErrorHandlerFunc func(ctx context.Context, nodeID string, item any, err error) ErrorDecision

func (f ErrorHandlerFunc) Handle(ctx context.Context, nodeID string, item any, err error) ErrorDecision {
	return f(ctx, nodeID, item, err)
}

// FailFastHandler always fails; it is the engine default when a node
// declares no handler of its own (spec §4.7(b)).
type FailFastHandler struct{}

func (FailFastHandler) Handle(context.Context, string, any, error) ErrorDecision { return Fail }

// ErrorRule is one entry of a RuleListHandler: Matches gates whether
// Decide applies, evaluated in list order. A nil Matches always
// applies, making the rule a catch-all.
type ErrorRule struct {
	Matches func(err error) bool
	Decide  ErrorDecision
}

// RuleListHandler evaluates ErrorRules in order and returns the first
// match's decision. Construction requires the final rule to be a
// catch-all so every error reaches a decision.
type RuleListHandler struct {
	rules []ErrorRule
}

// NewRuleListHandler builds a RuleListHandler, returning
// ErrNoCatchAllHandler if rules is empty or its last entry is not a
// catch-all (nil Matches).
func NewRuleListHandler(rules ...ErrorRule) (*RuleListHandler, error) {
	if len(rules) == 0 || rules[len(rules)-1].Matches != nil {
		return nil, ErrNoCatchAllHandler
	}
	return &RuleListHandler{rules: rules}, nil
}

func (h *RuleListHandler) Handle(_ context.Context, _ string, _ any, err error) ErrorDecision {
	for _, r := range h.rules {
		if r.Matches == nil || r.Matches(err) {
			return r.Decide
		}
	}
	return Fail
}

// DeadLetterSink durably records items the engine has given up on
// (spec §4.7(b), §6).
type DeadLetterSink interface {
	Record(ctx context.Context, nodeID string, item any, cause error) error
}

// DeadLetterSinkFunc adapts a plain function to DeadLetterSink.
type DeadLetterSinkFunc func(ctx context.Context, nodeID string, item any, cause error) error

func (f DeadLetterSinkFunc) Record(ctx context.Context, nodeID string, item any, cause error) error {
	return f(ctx, nodeID, item, cause)
}

type noOpDeadLetterSink struct{}

func (noOpDeadLetterSink) Record(context.Context, string, any, error) error { return nil }

// NoOpDeadLetterSink discards every record; it is the default when no
// sink is configured on the PipelineContext.
var NoOpDeadLetterSink DeadLetterSink = noOpDeadLetterSink{}
