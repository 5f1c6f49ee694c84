package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/gallery/server/internal/models"
)

// HashService computes and checks SHA-256 checksums of uploaded files
type HashService struct {
	sha256Regex *regexp.Regexp
}

// NewHashService creates a new HashService
func NewHashService() *HashService {
	return &HashService{
		sha256Regex: regexp.MustCompile(`^[a-f0-9]{64}$`),
	}
}

// Sum returns the lowercase hex SHA-256 of data
func (s *HashService) Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// NormalizeHash trims, lowercases and strips a "sha256:" prefix
func (s *HashService) NormalizeHash(hash string) string {
	normalized := strings.TrimSpace(hash)
	if strings.HasPrefix(strings.ToLower(normalized), "sha256:") {
		normalized = normalized[7:]
	}
	return strings.ToLower(normalized)
}

// Verify checks data against a client-supplied checksum and returns the
// computed one. An empty expected value skips the comparison.
func (s *HashService) Verify(data []byte, expected string) (string, error) {
	sum := s.Sum(data)
	if strings.TrimSpace(expected) == "" {
		return sum, nil
	}

	normalized := s.NormalizeHash(expected)
	if !s.sha256Regex.MatchString(normalized) {
		return "", models.ErrInvalidChecksum
	}
	if subtle.ConstantTimeCompare([]byte(normalized), []byte(sum)) != 1 {
		return "", models.ErrChecksumMismatch
	}
	return sum, nil
}
