package service

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"mixrelay/internal/config"
)

// feeScale converts a fractional fee percentage to integer arithmetic.
// percent is scaled to millionths, multiplied through, and divided back
// down, so rounding is always floor and never drifts with float math.
const feeScale = 1_000_000

// CalculateFee computes the relayer fee for a withdrawal denomination and
// a fee percentage p with 0 <= p < 1. Returns the fee (floor rounded) and
// the net amount paid out to the recipient.
func CalculateFee(denomination *big.Int, percent float64) (fee, net *big.Int, err error) {
	if percent < 0 || percent >= 1 {
		return nil, nil, fmt.Errorf("fee percent %v out of range [0, 1)", percent)
	}
	if denomination == nil || denomination.Sign() < 0 {
		return nil, nil, fmt.Errorf("denomination must be a non-negative integer")
	}

	millFee := int64(percent * feeScale)
	fee = new(big.Int).Mul(denomination, big.NewInt(millFee))
	fee.Div(fee, big.NewInt(feeScale))
	net = new(big.Int).Sub(denomination, fee)
	return fee, net, nil
}

// FeeService resolves fee policy from contract profiles
type FeeService struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFeeService creates a new fee service
func NewFeeService(cfg *config.Config, logger *zap.Logger) *FeeService {
	return &FeeService{
		cfg:    cfg,
		logger: logger,
	}
}

// FeeCalculation holds the computed compensation for one withdrawal
type FeeCalculation struct {
	Fee *big.Int // relayer compensation, smallest units
	Net *big.Int // amount paid to the recipient
}

// CalculateWithdrawFee computes the expected relayer fee for a withdrawal
// from the given contract, based on its configured denomination and fee
// percentage.
func (s *FeeService) CalculateWithdrawFee(chainID, contract string) (*FeeCalculation, error) {
	profile, ok := s.cfg.Contract(chainID, contract)
	if !ok {
		return nil, fmt.Errorf("contract %s not configured on chain %s", contract, chainID)
	}

	denomination, err := profile.DenominationInt()
	if err != nil {
		return nil, err
	}

	fee, net, err := CalculateFee(denomination, profile.WithdrawFee)
	if err != nil {
		return nil, fmt.Errorf("contract %s on chain %s: %w", contract, chainID, err)
	}

	s.logger.Debug("Calculated withdraw fee",
		zap.String("chain_id", chainID),
		zap.String("contract", contract),
		zap.String("fee", fee.String()),
		zap.String("net", net.String()))

	return &FeeCalculation{Fee: fee, Net: net}, nil
}

// ValidateOfferedFee checks that the fee offered in a relay request covers
// the expected relayer compensation for the contract.
func (s *FeeService) ValidateOfferedFee(chainID, contract string, offered *big.Int) error {
	calc, err := s.CalculateWithdrawFee(chainID, contract)
	if err != nil {
		return err
	}

	if offered == nil || offered.Cmp(calc.Fee) < 0 {
		return fmt.Errorf("fee too low: offered %s, expected at least %s",
			stringOrZero(offered), calc.Fee.String())
	}

	return nil
}

func stringOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
