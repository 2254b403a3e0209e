package chain

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// signCompact produces the deterministic (RFC6979) ECDSA signature in the
// fixed 64-byte r||s layout cosmos chains verify.
func signCompact(priv *secp256k1.PrivateKey, digest []byte) []byte {
	sig := ecdsa.Sign(priv, digest)
	r := sig.R()
	s := sig.S()
	rb := r.Bytes()
	sb := s.Bytes()
	out := make([]byte, 64)
	copy(out[:32], rb[:])
	copy(out[32:], sb[:])
	return out
}
