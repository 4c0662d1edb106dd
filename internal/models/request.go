package models

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ExtData is the encoded external data of a withdrawal: who gets paid,
// which relayer is compensated, and how much.
type ExtData struct {
	Recipient common.Address `json:"recipient"`
	Relayer   common.Address `json:"relayer"`
	Fee       *hexutil.Big   `json:"fee"`
	Refund    *hexutil.Big   `json:"refund"`
}

// FeeInt returns the offered fee as a big integer, never nil
func (d *ExtData) FeeInt() *big.Int {
	if d.Fee == nil {
		return new(big.Int)
	}
	return (*big.Int)(d.Fee)
}

// RefundInt returns the refund as a big integer, never nil
func (d *ExtData) RefundInt() *big.Int {
	if d.Refund == nil {
		return new(big.Int)
	}
	return (*big.Int)(d.Refund)
}

// RelayRequest is a validated withdrawal request handed to the engine by
// the command layer. It is immutable once accepted; its fingerprint is its
// sole identity.
type RelayRequest struct {
	ChainID  string         `json:"chain"`
	Contract common.Address `json:"contract"`
	Proof    hexutil.Bytes  `json:"proof"`
	// PublicInputs are the ordered public input words of the proof. For
	// anchor withdrawals the last word is the nullifier hash and the words
	// before it are the merkle root set.
	PublicInputs []hexutil.Bytes `json:"publicInputs"`
	ExtData      ExtData         `json:"extData"`
}

// Fingerprint derives the collision-resistant identity of the request:
// keccak256 over chain id, contract, proof, public inputs, and external
// data. Every variable-length field is length-prefixed and the input word
// count is encoded, so the preimage is injective: no two distinct requests
// share an encoding. Two submissions with the same fingerprint must never
// produce two distinct on-chain transactions.
func (r *RelayRequest) Fingerprint() string {
	var buf []byte
	buf = appendLenPrefixed(buf, []byte(r.ChainID))
	buf = append(buf, r.Contract.Bytes()...)
	buf = appendLenPrefixed(buf, r.Proof)
	buf = binary.AppendUvarint(buf, uint64(len(r.PublicInputs)))
	for _, input := range r.PublicInputs {
		buf = appendLenPrefixed(buf, input)
	}
	buf = append(buf, r.ExtData.Recipient.Bytes()...)
	buf = append(buf, r.ExtData.Relayer.Bytes()...)
	buf = append(buf, common.LeftPadBytes(r.ExtData.FeeInt().Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(r.ExtData.RefundInt().Bytes(), 32)...)
	return hexutil.Encode(crypto.Keccak256(buf))
}

func appendLenPrefixed(buf, field []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(field)))
	return append(buf, field...)
}
