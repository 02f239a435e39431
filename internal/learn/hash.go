// Package learn implements background ingestion of workspace notes
// into the knowledge base.
package learn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// DefaultHashSampleSize is the number of leading bytes hashed by
// ContentHash when the caller passes 0.
const DefaultHashSampleSize = 1024

// ContentHash returns a short fingerprint of a file: SHA-256 over the
// first sampleSize bytes plus the file's total length, truncated to 16
// hex characters. Two files identical in head and length but differing
// later collide; that is acceptable for note deduplication and nothing
// stronger.
func ContentHash(path string, sampleSize int) (string, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultHashSampleSize
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	h := sha256.New()
	if _, err := io.CopyN(h, f, int64(sampleSize)); err != nil && err != io.EOF {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	fmt.Fprintf(h, "%d", info.Size())

	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// StringHash returns the 16-hex-character SHA-256 fingerprint of text.
// Used for small in-memory inputs where the whole content is at hand.
func StringHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}
