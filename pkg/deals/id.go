package deals

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"kartai/models"
)

// MakeID derives a stable id from the identifying fields so that saving the
// same item at the same store and location twice updates one deal.
func MakeID(t models.DealType, item, merchant, location string) string {
	parts := []string{string(t), item, merchant, location}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.Join(strings.Fields(p), " "))
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return string(t) + "_" + hex.EncodeToString(sum[:16])
}
