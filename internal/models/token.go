package models

// TokenSymbol identifies a streamable super token
type TokenSymbol string

const (
	TokenUSDCx  TokenSymbol = "USDCx"
	TokenUSDTx  TokenSymbol = "USDTx"
	TokenETHx   TokenSymbol = "ETHx"
	TokenDAIx   TokenSymbol = "DAIx"
	TokenPYUSDx TokenSymbol = "PYUSDx"
)

// SupportedTokens is the authoritative token set accepted for instant and stream records
var SupportedTokens = []TokenSymbol{TokenUSDCx, TokenUSDTx, TokenETHx, TokenDAIx, TokenPYUSDx}

// Valid reports whether t is a supported token
func (t TokenSymbol) Valid() bool {
	for _, s := range SupportedTokens {
		if s == t {
			return true
		}
	}
	return false
}

// Direction selects which side of a transfer a wallet is matched against
type Direction string

const (
	DirectionSender   Direction = "sender"
	DirectionReceiver Direction = "receiver"
)

// ParseDirection parses a list-endpoint direction selector
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case DirectionSender, DirectionReceiver:
		return Direction(s), true
	}
	return "", false
}
