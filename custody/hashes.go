package custody

import (
	"fmt"

	"golang.org/x/crypto/sha3"
)

// keccak256 hashes the concatenation of its arguments with legacy
// Keccak-256, the Ethereum hash.
func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

var (
	onboardingDomainTypeHash = keccak256([]byte("EIP712Domain(string name)"))
	onboardingDomainName     = keccak256([]byte("dYdX"))
	onboardingStructTypeHash = keccak256([]byte("dYdX(string action,string salt)"))
)

const onboardingAction = "dYdX Chain Onboarding"

// OnboardingTypedDataHash computes the EIP-712 digest of the fixed
// onboarding structure {action: "dYdX Chain Onboarding", salt}.
func OnboardingTypedDataHash(salt string) []byte {
	domainHash := keccak256(onboardingDomainTypeHash, onboardingDomainName)
	structHash := keccak256(onboardingStructTypeHash, keccak256([]byte(onboardingAction)), keccak256([]byte(salt)))
	return keccak256([]byte{0x19, 0x01}, domainHash, structHash)
}

// PersonalMessageHash computes the EIP-191 personal-message digest of a
// raw message.
func PersonalMessageHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return keccak256([]byte(prefix), message)
}
