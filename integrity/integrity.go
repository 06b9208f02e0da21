package integrity

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"
)

var (
	ErrIntegrityMismatch      = errors.New("integrity check failed: hash mismatch")
	ErrNoIntegrity            = errors.New("no integrity information available")
	ErrUnsupportedAlgorithm   = errors.New("unsupported hash algorithm")
	ErrInvalidIntegrityFormat = errors.New("invalid integrity format")
)

// Hash is one "{algorithm}-{base64}" entry of an SRI string.
type Hash struct {
	Algorithm string
	Digest    string
}

var algorithmStrength = map[string]int{
	"sha512": 3,
	"sha384": 2,
	"sha256": 1,
}

// Parse splits an SRI string into its hashes, strongest first. Entries with
// unknown algorithms are ignored.
func Parse(integrity string) ([]Hash, error) {
	if integrity == "" {
		return nil, ErrNoIntegrity
	}

	parts := strings.Fields(integrity)
	if len(parts) == 0 {
		return nil, ErrInvalidIntegrityFormat
	}

	var hashes []Hash
	for _, part := range parts {
		alg, digest, ok := strings.Cut(part, "-")
		if !ok {
			continue
		}
		if _, known := algorithmStrength[alg]; !known {
			continue
		}
		hashes = append(hashes, Hash{Algorithm: alg, Digest: digest})
	}

	if len(hashes) == 0 {
		return nil, ErrUnsupportedAlgorithm
	}

	sort.SliceStable(hashes, func(i, j int) bool {
		return algorithmStrength[hashes[i].Algorithm] > algorithmStrength[hashes[j].Algorithm]
	})
	return hashes, nil
}

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha512":
		return sha512.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha1":
		return sha1.New(), nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// HashFile streams filePath through algorithm and returns the raw digest.
func HashFile(filePath, algorithm string) ([]byte, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(h, file); err != nil {
		return nil, fmt.Errorf("failed to hash file: %w", err)
	}
	return h.Sum(nil), nil
}

// Verify checks filePath against an SRI string, falling back to the legacy
// hex sha1 shasum when no SRI is published.
func Verify(filePath, integrity, shasum string) error {
	if integrity == "" {
		if shasum == "" {
			return ErrNoIntegrity
		}
		sum, err := HashFile(filePath, "sha1")
		if err != nil {
			return err
		}
		if got := hex.EncodeToString(sum); !strings.EqualFold(got, shasum) {
			return fmt.Errorf("%w: expected sha1 %s, got %s", ErrIntegrityMismatch, shasum, got)
		}
		return nil
	}

	hashes, err := Parse(integrity)
	if err != nil {
		return err
	}

	// the strongest algorithm decides
	strongest := hashes[0]
	sum, err := HashFile(filePath, strongest.Algorithm)
	if err != nil {
		return err
	}
	if got := base64.StdEncoding.EncodeToString(sum); got != strongest.Digest {
		return fmt.Errorf("%w: expected %s, got %s (algorithm: %s)", ErrIntegrityMismatch, strongest.Digest, got, strongest.Algorithm)
	}
	return nil
}
