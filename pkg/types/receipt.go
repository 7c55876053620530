package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// IntentReceipt is a solver's signed claim of having executed one intent.
// Times are unix seconds; they are part of the signed and hashed content.
type IntentReceipt struct {
	IntentHash      common.Hash   `json:"intent_hash" yaml:"intent_hash"`
	ConstraintsHash common.Hash   `json:"constraints_hash" yaml:"constraints_hash"`
	RouteHash       common.Hash   `json:"route_hash" yaml:"route_hash"`
	OutcomeHash     common.Hash   `json:"outcome_hash" yaml:"outcome_hash"`
	EvidenceHash    common.Hash   `json:"evidence_hash" yaml:"evidence_hash"`
	CreatedAt       uint64        `json:"created_at" yaml:"created_at"`
	Expiry          uint64        `json:"expiry" yaml:"expiry"`
	SolverID        SolverID      `json:"solver_id" yaml:"solver_id"`
	Signature       hexutil.Bytes `json:"signature" yaml:"signature"`
}

// CreatedTime returns CreatedAt as a time.
func (r *IntentReceipt) CreatedTime() time.Time {
	return time.Unix(int64(r.CreatedAt), 0)
}

// ExpiryTime returns Expiry as a time.
func (r *IntentReceipt) ExpiryTime() time.Time {
	return time.Unix(int64(r.Expiry), 0)
}

// Copy returns a deep copy.
func (r IntentReceipt) Copy() IntentReceipt {
	if r.Signature != nil {
		r.Signature = append(hexutil.Bytes(nil), r.Signature...)
	}
	return r
}

// DisputeReason classifies why a receipt is challenged.
type DisputeReason uint8

const (
	ReasonNone DisputeReason = iota
	ReasonTimeout
	ReasonMinOutViolation
	ReasonWrongToken
	ReasonWrongChain
	ReasonWrongRecipient
	ReasonReceiptMismatch
	ReasonSubjective
)

var reasonNames = map[DisputeReason]string{
	ReasonNone:            "none",
	ReasonTimeout:         "timeout",
	ReasonMinOutViolation: "min_out_violation",
	ReasonWrongToken:      "wrong_token",
	ReasonWrongChain:      "wrong_chain",
	ReasonWrongRecipient:  "wrong_recipient",
	ReasonReceiptMismatch: "receipt_mismatch",
	ReasonSubjective:      "subjective",
}

func (r DisputeReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r DisputeReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *DisputeReason) UnmarshalText(text []byte) error {
	parsed, err := ParseDisputeReason(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// IsSubjective reports whether the reason needs human judgment.
func (r DisputeReason) IsSubjective() bool { return r == ReasonSubjective }

// IsValid reports whether r is a known, non-null reason.
func (r DisputeReason) IsValid() bool {
	return r > ReasonNone && r <= ReasonSubjective
}

// ParseDisputeReason parses the String form of a reason.
func ParseDisputeReason(s string) (DisputeReason, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for reason, name := range reasonNames {
		if name == s {
			return reason, nil
		}
	}
	return ReasonNone, fmt.Errorf("unknown dispute reason: %q", s)
}
