package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/hurttlocker/ofnr/internal/ofnr"
)

// HashCandidate computes SHA-256 over the candidate's content fields. The id
// and source are left out so the same extraction hashes the same wherever
// it was read from.
func HashCandidate(c ofnr.Candidate) (string, error) {
	c.ID = ""
	c.Source = ofnr.Source{}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("hashing candidate: %w", err)
	}
	return HashContent(string(b)), nil
}

// HashContent computes SHA-256 of content.
func HashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", h)
}
