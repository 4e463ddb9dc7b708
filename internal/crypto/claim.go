package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/nest-markets/nestd/internal/domain"
)

// ClaimDigest derives the deterministic 32-byte claim for a resolution
// assertion: keccak256 over "market:{id}:outcome:{yes|no}:question:{q}".
// Binding the question into the digest keeps a claim from being replayed
// against a different market that happens to reuse an id.
func ClaimDigest(marketID domain.MarketID, outcome domain.Outcome, question string) [32]byte {
	preimage := fmt.Sprintf("market:%d:outcome:%s:question:%s",
		marketID, strings.ToLower(outcome.String()), question)
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256([]byte(preimage)))
	return digest
}

// ClaimHex is ClaimDigest hex-encoded, the form carried in events, oracle
// payloads and assertion ids.
func ClaimHex(marketID domain.MarketID, outcome domain.Outcome, question string) string {
	digest := ClaimDigest(marketID, outcome, question)
	return hex.EncodeToString(digest[:])
}
