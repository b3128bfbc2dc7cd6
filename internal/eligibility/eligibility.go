// Package eligibility gates candidate signals behind an ordered chain of named rules.
package eligibility

import (
	"errors"
	"strings"
	"time"

	"optionbot-go/internal/signal"
)

// ErrUnresolvableInstrument aborts an evaluation that has no index or candidate to check.
var ErrUnresolvableInstrument = errors.New("eligibility: instrument cannot be resolved")

// Context bundles the inputs one evaluation looks at.
type Context struct {
	Index     signal.IndexContext
	Pick      signal.OptionCandidate
	Direction signal.Direction
	Now       time.Time
}

// Symbol names the picked instrument for cooldown bookkeeping.
func (c Context) Symbol() string {
	if c.Pick.Symbol != "" {
		return c.Pick.Symbol
	}
	return c.Pick.SecurityID
}

func (c Context) resolvable() bool {
	return strings.TrimSpace(c.Index.Key) != "" && strings.TrimSpace(c.Pick.SecurityID) != ""
}

// Specification is one named rule.
type Specification interface {
	Name() string
	Satisfied(ctx Context) bool
	FailureReason(ctx Context) string
}

// Chain is an ordered conjunction of specifications. Order is the reporting priority.
type Chain struct {
	specs []Specification
}

// NewChain keeps specs in the order given.
func NewChain(specs ...Specification) *Chain {
	return &Chain{specs: specs}
}

// Name implements Specification so chains can nest.
func (c *Chain) Name() string { return "chain" }

// Satisfied is true only when every member is satisfied. It stops at the first failure.
func (c *Chain) Satisfied(ctx Context) bool {
	return c.firstFailing(ctx) == nil
}

// FailureReason returns the reason of the first failing member, or "" when all pass.
func (c *Chain) FailureReason(ctx Context) string {
	if s := c.firstFailing(ctx); s != nil {
		return s.FailureReason(ctx)
	}
	return ""
}

// Evaluate runs the chain once and reports the failing rule's name and reason.
// It fails outright when the context has no resolvable instrument.
func (c *Chain) Evaluate(ctx Context) (ok bool, rule, reason string, err error) {
	if !ctx.resolvable() {
		return false, "", "", ErrUnresolvableInstrument
	}
	if s := c.firstFailing(ctx); s != nil {
		return false, s.Name(), s.FailureReason(ctx), nil
	}
	return true, "", "", nil
}

// Names lists member names in evaluation order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.specs))
	for i, s := range c.specs {
		out[i] = s.Name()
	}
	return out
}

func (c *Chain) firstFailing(ctx Context) Specification {
	for _, s := range c.specs {
		if !s.Satisfied(ctx) {
			return s
		}
	}
	return nil
}
