package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashClientID maps an arbitrary client id to a fixed length token that is
// safe to use as key or subject part (nats only allows a limited charset).
func HashClientID(arg string) string {
	hasher := sha256.New()
	hasher.Write([]byte(arg))
	return hex.EncodeToString(hasher.Sum(nil))[:32]
}
