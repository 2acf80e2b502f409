package rfq

import "strings"

// Pair is an unordered tuple of token contract addresses, case-normalized to
// lowercase. The zero value is not meaningful; build pairs with NewPair so
// that equal pairs always compare and key identically regardless of argument
// order or input casing.
type Pair struct {
	TokenA string `json:"token_a"`
	TokenB string `json:"token_b"`
}

// NewPair canonicalizes two token addresses into a Pair: both are lowercased
// and the lexicographically smaller address becomes TokenA.
func NewPair(tokenA, tokenB string) Pair {
	a := strings.ToLower(tokenA)
	b := strings.ToLower(tokenB)
	if a > b {
		a, b = b, a
	}
	return Pair{TokenA: a, TokenB: b}
}

// Key returns the canonical lookup key for the pair.
func (p Pair) Key() string {
	return p.TokenA + "-" + p.TokenB
}

// PairKey is shorthand for NewPair(a, b).Key().
func PairKey(tokenA, tokenB string) string {
	return NewPair(tokenA, tokenB).Key()
}
