// Package checksum computes SHA-256 digests for archived audit data and reads and
// writes the sha256sum-compatible sidecar files stored next to each archive, so an
// archive can be checked with standard tooling long after the rows are gone.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
)

// CalculateSHA256 returns the lowercase hex SHA-256 of everything read from reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifySHA256 reports whether reader's content hashes to expected
func VerifySHA256(reader io.Reader, expected string) (bool, error) {
	actual, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expected), nil
}

// Digest hashes data as it streams through a reader returned by Tee.
type Digest struct {
	h hash.Hash
	n int64
}

// Tee returns a reader that yields reader's bytes while hashing them into the digest.
func Tee(reader io.Reader) (io.Reader, *Digest) {
	d := &Digest{h: sha256.New()}
	return io.TeeReader(reader, d), d
}

func (d *Digest) Write(p []byte) (int, error) {
	d.n += int64(len(p))
	return d.h.Write(p)
}

// Sum returns the hex digest of the bytes read so far
func (d *Digest) Sum() string { return hex.EncodeToString(d.h.Sum(nil)) }

// Size returns the number of bytes read so far
func (d *Digest) Size() int64 { return d.n }

// SumFile formats a single sha256sum line: "<hex>  <name>\n".
func SumFile(sum, name string) string {
	return sum + "  " + name + "\n"
}

// ParseSumFile reads the first line of a sha256sum file.
func ParseSumFile(data string) (sum, name string, err error) {
	line, _, _ := strings.Cut(data, "\n")
	sum, name, ok := strings.Cut(strings.TrimRight(line, "\r"), "  ")
	if !ok || len(sum) != sha256.Size*2 || name == "" {
		return "", "", fmt.Errorf("malformed checksum line %q", line)
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", "", fmt.Errorf("malformed checksum %q: %w", sum, err)
	}
	return strings.ToLower(sum), name, nil
}
