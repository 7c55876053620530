// Package authz holds the capability checks shared by the engine's contracts.
package authz

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/pkg/types"
)

// Operation names one privileged entry point.
type Operation string

// AuthorizationPolicy answers whether principal may perform op.
type AuthorizationPolicy interface {
	Permits(principal common.Address, op Operation) bool
}

// AnyOperation grants a principal every operation of the policy.
const AnyOperation Operation = "*"

// ACL is an owner plus explicit principal sets per operation. The owner is
// permitted every operation.
type ACL struct {
	owner   common.Address
	granted map[Operation]map[common.Address]struct{}
}

// NewACL creates an ACL owned by owner.
func NewACL(owner common.Address) *ACL {
	return &ACL{
		owner:   owner,
		granted: make(map[Operation]map[common.Address]struct{}),
	}
}

// Owner returns the owner principal.
func (a *ACL) Owner() common.Address {
	return a.owner
}

// IsOwner reports whether principal owns the ACL.
func (a *ACL) IsOwner(principal common.Address) bool {
	return principal == a.owner && principal != (common.Address{})
}

// Permits implements AuthorizationPolicy.
func (a *ACL) Permits(principal common.Address, op Operation) bool {
	if a.IsOwner(principal) {
		return true
	}
	return a.has(op, principal) || a.has(AnyOperation, principal)
}

// Granted reports whether principal holds op explicitly.
func (a *ACL) Granted(principal common.Address, op Operation) bool {
	return a.has(op, principal)
}

// Set grants or revokes op for principal and returns the previous grant, so
// callers can journal the change.
func (a *ACL) Set(principal common.Address, op Operation, allowed bool) (previous bool) {
	previous = a.has(op, principal)
	if allowed {
		set := a.granted[op]
		if set == nil {
			set = make(map[common.Address]struct{})
			a.granted[op] = set
		}
		set[principal] = struct{}{}
		return previous
	}
	if set := a.granted[op]; set != nil {
		delete(set, principal)
	}
	return previous
}

func (a *ACL) has(op Operation, principal common.Address) bool {
	_, ok := a.granted[op][principal]
	return ok
}

// Principals lists the principals granted op.
func (a *ACL) Principals(op Operation) []common.Address {
	out := make([]common.Address, 0, len(a.granted[op]))
	for p := range a.granted[op] {
		out = append(out, p)
	}
	return out
}

// Require returns an ErrUnauthorized-class error unless policy permits.
func Require(policy AuthorizationPolicy, principal common.Address, op Operation) error {
	if policy.Permits(principal, op) {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s", types.ErrUnauthorized, principal.Hex(), op)
}
