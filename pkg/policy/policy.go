// Package policy evaluates composable authorization rules over named
// condition predicates.
//
// A Condition is a pure function over the authenticated user and the
// already-validated request arguments. A Policy combines conditions with a
// satisfaction strategy: all conditions must hold (the default), any one
// must hold, or an arbitrary function over the declaration-ordered results
// decides.
package policy

import (
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/schema"
)

// Condition is one named authorization predicate. The user may be nil;
// library conditions treat a nil user as not satisfying user-dependent
// checks.
type Condition func(user *models.User, args schema.Args) bool

// Satisfy combines declaration-ordered condition results into a decision.
type Satisfy func(results []bool) bool

type mode int

const (
	modeAll mode = iota
	modeAny
	modeCustom
)

// Policy is an ordered set of conditions plus a satisfaction strategy.
// The zero Policy has no conditions and admits everyone authenticated.
type Policy struct {
	conditions []Condition
	satisfy    Satisfy
	mode       mode
}

// Allow builds a policy satisfied when every condition holds.
func Allow(conditions ...Condition) Policy {
	return Policy{conditions: conditions, mode: modeAll}
}

// AllowAny builds a policy satisfied when at least one condition holds.
func AllowAny(conditions ...Condition) Policy {
	return Policy{conditions: conditions, mode: modeAny}
}

// AllowWith builds a policy with a custom satisfaction strategy. The
// strategy receives one result per condition, in declaration order, so the
// order of the conditions is part of the contract.
func AllowWith(satisfy Satisfy, conditions ...Condition) Policy {
	return Policy{conditions: conditions, satisfy: satisfy, mode: modeCustom}
}

// Evaluate runs the conditions in declaration order and applies the
// satisfaction strategy. The all/any strategies short-circuit; a custom
// strategy always receives the full result sequence.
func (p Policy) Evaluate(user *models.User, args schema.Args) bool {
	switch p.mode {
	case modeAny:
		for _, c := range p.conditions {
			if c(user, args) {
				return true
			}
		}
		return false
	case modeCustom:
		results := make([]bool, len(p.conditions))
		for i, c := range p.conditions {
			results[i] = c(user, args)
		}
		return p.satisfy(results)
	default:
		for _, c := range p.conditions {
			if !c(user, args) {
				return false
			}
		}
		return true
	}
}
