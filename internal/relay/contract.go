package relay

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"mixrelay/internal/config"
	"mixrelay/internal/models"
)

// AnchorABI covers the withdraw entrypoint of anchor contracts. The proof
// is verified on chain; the relayer only packs and submits it.
const AnchorABI = `[
	{
		"inputs": [
			{"internalType": "bytes", "name": "_proof", "type": "bytes"},
			{"internalType": "bytes", "name": "_roots", "type": "bytes"},
			{"internalType": "bytes32", "name": "_nullifierHash", "type": "bytes32"},
			{"internalType": "address", "name": "_recipient", "type": "address"},
			{"internalType": "address", "name": "_relayer", "type": "address"},
			{"internalType": "uint256", "name": "_fee", "type": "uint256"},
			{"internalType": "uint256", "name": "_refund", "type": "uint256"}
		],
		"name": "withdraw",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	}
]`

// BridgeABI covers the governance entrypoint of bridge and governance
// delegate contracts.
const BridgeABI = `[
	{
		"inputs": [
			{"internalType": "bytes", "name": "data", "type": "bytes"},
			{"internalType": "bytes", "name": "sig", "type": "bytes"}
		],
		"name": "executeProposalWithSignature",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// txBuilder packs relay requests into contract call data
type txBuilder struct {
	anchor abi.ABI
	bridge abi.ABI
}

func newTxBuilder() (*txBuilder, error) {
	anchorABI, err := abi.JSON(strings.NewReader(AnchorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse anchor ABI: %w", err)
	}
	bridgeABI, err := abi.JSON(strings.NewReader(BridgeABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bridge ABI: %w", err)
	}
	return &txBuilder{anchor: anchorABI, bridge: bridgeABI}, nil
}

// validateInputs checks the shape of the public inputs against the
// contract profile. An anchor linked to N other chains proves membership
// against N+1 merkle roots, followed by the nullifier hash.
func validateInputs(req *models.RelayRequest, profile *config.ContractProfile) error {
	if len(req.Proof) == 0 {
		return fmt.Errorf("empty proof")
	}
	if profile.Kind != models.ContractKindAnchor {
		return nil
	}

	expectedRoots := len(profile.LinkedAnchors) + 1
	if len(req.PublicInputs) != expectedRoots+1 {
		return fmt.Errorf("expected %d public inputs (%d roots + nullifier hash), got %d",
			expectedRoots+1, expectedRoots, len(req.PublicInputs))
	}
	for i, input := range req.PublicInputs {
		if len(input) != common.HashLength {
			return fmt.Errorf("public input %d is %d bytes, want %d", i, len(input), common.HashLength)
		}
	}
	return nil
}

// withdrawCallData packs the withdraw call for an anchor contract
func (b *txBuilder) withdrawCallData(req *models.RelayRequest, profile *config.ContractProfile) ([]byte, error) {
	if err := validateInputs(req, profile); err != nil {
		return nil, err
	}

	n := len(req.PublicInputs)
	var roots []byte
	for _, root := range req.PublicInputs[:n-1] {
		roots = append(roots, root...)
	}
	var nullifierHash [32]byte
	copy(nullifierHash[:], req.PublicInputs[n-1])

	data, err := b.anchor.Pack("withdraw",
		[]byte(req.Proof),
		roots,
		nullifierHash,
		req.ExtData.Recipient,
		req.ExtData.Relayer,
		req.ExtData.FeeInt(),
		req.ExtData.RefundInt(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack withdraw call: %w", err)
	}
	return data, nil
}

// proposalCallData packs the governance call for a bridge contract. The
// signature comes from the proposal signing backend.
func (b *txBuilder) proposalCallData(proposal, signature []byte) ([]byte, error) {
	data, err := b.bridge.Pack("executeProposalWithSignature", proposal, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to pack proposal call: %w", err)
	}
	return data, nil
}
