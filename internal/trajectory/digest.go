package trajectory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/autopanel-io/autopanel/internal/models"
)

// Digest returns the sha256 hex digest of the RFC 8785 canonical form of
// records encoded as a JSON array. Two logs with the same records in the
// same order digest equally regardless of key order or whitespace.
func Digest(records []models.Record) (string, error) {
	if records == nil {
		records = []models.Record{}
	}
	data, err := models.MarshalCompact(records)
	if err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize records: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
