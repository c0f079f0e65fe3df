package domain

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// SelectorLength is the length of a hex selector including the 0x prefix.
const SelectorLength = 10

// SelectorOf returns the lower-cased 4-byte selector of hex call input, or ""
// when the input is shorter than four bytes.
func SelectorOf(input string) string {
	if len(input) < SelectorLength || (!strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X")) {
		return ""
	}
	return strings.ToLower(input[:SelectorLength])
}

// SelectorFromSignature hashes a canonical function signature such as
// "transfer(address,uint256)" into its 0x-prefixed selector.
func SelectorFromSignature(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.ReplaceAll(signature, " ", "")))
	return "0x" + hex.EncodeToString(h.Sum(nil)[:4])
}
