// Package validation holds the wallet, transaction and amount format checks shared by
// request binding and services.
package validation

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/drippay/backend/internal/models"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	addressHexLen = 40
	txHashHexLen  = 64
)

// ValidateAddress validates an EVM wallet address (0x followed by 40 hex characters)
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	return validateHex(addr, addressHexLen, "address")
}

// ValidateTxHash validates a transaction hash (0x followed by 64 hex characters)
func ValidateTxHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	return validateHex(hash, txHashHexLen, "transaction hash")
}

func validateHex(value string, want int, what string) error {
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		return fmt.Errorf("invalid %s: missing 0x prefix", what)
	}
	normalized := value[2:]
	if len(normalized) != want {
		return fmt.Errorf("invalid %s length: expected %d characters (without 0x), got %d", what, want, len(normalized))
	}
	if _, err := hex.DecodeString(normalized); err != nil {
		return fmt.Errorf("invalid hex %s: %w", what, err)
	}
	return nil
}

// maxUint256 is the largest value an ERC-20 amount or flow rate can hold on-chain
var maxUint256 = decimal.RequireFromString("115792089237316195423570985008687907853269984665640564039457584007913129639935")

// ValidateAmount checks that s is the decimal text of a non-negative integer that fits in a
// uint256 (a token amount in its smallest unit)
func ValidateAmount(s string) error {
	if s == "" {
		return fmt.Errorf("amount cannot be empty")
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return fmt.Errorf("amount must contain only digits, got %q", s)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	if d.GreaterThan(maxUint256) {
		return fmt.Errorf("amount exceeds uint256")
	}
	return nil
}

// ValidateChainID checks that s is a positive decimal chain id
func ValidateChainID(s string) error {
	if err := ValidateAmount(s); err != nil {
		return fmt.Errorf("invalid chain id %q", s)
	}
	if d, _ := decimal.NewFromString(s); !d.IsPositive() {
		return fmt.Errorf("chain id must be positive")
	}
	return nil
}

// RegisterBindings registers the custom validators with gin's binding engine.
// It is safe to call more than once.
func RegisterBindings() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
	}
	rules := map[string]func(string) error{
		"evmaddr": ValidateAddress,
		"txhash":  ValidateTxHash,
		"uintstr": ValidateAmount,
		"chainid": ValidateChainID,
		"token": func(s string) error {
			if !models.TokenSymbol(s).Valid() {
				return fmt.Errorf("unsupported token %q", s)
			}
			return nil
		},
	}
	for tag, check := range rules {
		check := check
		err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String()) == nil
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}
