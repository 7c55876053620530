package hub

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/moltbunker/solverbond/pkg/types"
)

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint64Type, _  = abi.NewType("uint64", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)

	receiptFields = abi.Arguments{
		{Name: "intentHash", Type: bytes32Type},
		{Name: "constraintsHash", Type: bytes32Type},
		{Name: "routeHash", Type: bytes32Type},
		{Name: "outcomeHash", Type: bytes32Type},
		{Name: "evidenceHash", Type: bytes32Type},
		{Name: "createdAt", Type: uint64Type},
		{Name: "expiry", Type: uint64Type},
		{Name: "solverId", Type: bytes32Type},
	}

	digestFields = append(abi.Arguments{
		{Name: "chainId", Type: uint256Type},
		{Name: "hub", Type: addressType},
		{Name: "nonce", Type: uint256Type},
	}, receiptFields...)
)

// ReceiptID is keccak256(abi.encode(receipt fields)). The signature is not
// part of the id.
func ReceiptID(r *types.IntentReceipt) types.ReceiptID {
	packed, err := receiptFields.Pack(
		r.IntentHash, r.ConstraintsHash, r.RouteHash, r.OutcomeHash, r.EvidenceHash,
		r.CreatedAt, r.Expiry, r.SolverID,
	)
	if err != nil {
		// static types only; Pack cannot fail
		panic(fmt.Sprintf("hub: pack receipt: %v", err))
	}
	return crypto.Keccak256Hash(packed)
}

// SigningDigest is the hash a solver operator signs for one receipt: the
// EIP-191 personal-sign hash of keccak256(abi.encode(chainId, hub, nonce,
// receipt fields)).
func SigningDigest(chainID *big.Int, hub common.Address, nonce uint64, r *types.IntentReceipt) common.Hash {
	packed, err := digestFields.Pack(
		chainID, hub, new(big.Int).SetUint64(nonce),
		r.IntentHash, r.ConstraintsHash, r.RouteHash, r.OutcomeHash, r.EvidenceHash,
		r.CreatedAt, r.Expiry, r.SolverID,
	)
	if err != nil {
		panic(fmt.Sprintf("hub: pack digest: %v", err))
	}
	message := crypto.Keccak256(packed)
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256Hash([]byte(prefixed))
}

// SignReceipt signs r in place for the given chain, hub and nonce.
func SignReceipt(r *types.IntentReceipt, key *ecdsa.PrivateKey, chainID *big.Int, hub common.Address, nonce uint64) error {
	digest := SigningDigest(chainID, hub, nonce, r)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return fmt.Errorf("failed to sign receipt: %w", err)
	}
	// Ethereum convention (27/28)
	sig[64] += 27
	r.Signature = sig
	return nil
}

// RecoverSigner returns the address that signed r for the given chain, hub
// and nonce.
func RecoverSigner(r *types.IntentReceipt, chainID *big.Int, hub common.Address, nonce uint64) (common.Address, error) {
	if len(r.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(r.Signature))
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, r.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest := SigningDigest(chainID, hub, nonce, r)
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
