// Package hashing implements C1: content fingerprinting for files and
// canonical blocks. All hashes are BLAKE3, 32 bytes, presented hex-encoded
// with an algorithm prefix so a future algorithm change is detectable.
package hashing

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kittclouds/kiln/internal/errs"
	"lukechampine.com/blake3"
)

// Algorithm is embedded in every digest's string form.
const Algorithm = "blake3"

// MaxFileSize is the default bound on hash_file inputs; callers may pass a
// different limit explicitly.
const MaxFileSize = 10 * 1024 * 1024

// Digest is a 32-byte content fingerprint tagged with its algorithm.
type Digest struct {
	Algo  string
	Bytes [32]byte
}

// String renders the digest as "<algo>:<hex>".
func (d Digest) String() string {
	return d.Algo + ":" + hex.EncodeToString(d.Bytes[:])
}

// Equal reports whether two digests have the same algorithm and bytes.
func (d Digest) Equal(o Digest) bool {
	return d.Algo == o.Algo && d.Bytes == o.Bytes
}

// ParseDigest parses the "<algo>:<hex>" form produced by String.
func ParseDigest(s string) (Digest, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Digest{}, errs.Input(errs.KindEncodingError, "malformed digest: "+s, nil)
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil || len(raw) != 32 {
		return Digest{}, errs.Input(errs.KindEncodingError, "malformed digest hex: "+s, err)
	}
	var d Digest
	d.Algo = parts[0]
	copy(d.Bytes[:], raw)
	return d, nil
}

// HashBytes fingerprints an arbitrary byte slice.
func HashBytes(b []byte) Digest {
	sum := blake3.Sum256(b)
	return Digest{Algo: Algorithm, Bytes: sum}
}

// FileInfo describes the result of hashing a file on disk.
type FileInfo struct {
	Digest Digest
	Size   int64
	ModTime time.Time
}

// HashFile fingerprints a file's contents, enforcing maxSize. It returns
// errs.InputError{Kind: FileTooLarge} if the file exceeds maxSize, and
// wraps any I/O error.
func HashFile(path string, maxSize int64) (FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, errs.Input(errs.KindInvalidPath, "stat "+path, err)
	}
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	if st.Size() > maxSize {
		return FileInfo{}, errs.Input(errs.KindFileTooLarge,
			fmt.Sprintf("%s: %d bytes exceeds max %d", path, st.Size(), maxSize), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileInfo{}, errs.Input(errs.KindInvalidPath, "read "+path, err)
	}
	return FileInfo{
		Digest:  HashBytes(data),
		Size:    st.Size(),
		ModTime: st.ModTime(),
	}, nil
}

// NormalizeBlockContent canonicalises block text before hashing: it trims
// trailing spaces, tabs and carriage returns from every line and collapses
// the final newlines to exactly one. No Unicode normalisation (NFC or
// otherwise) is applied, so text is hashed in the code-point form it was
// given: a decomposed and a pre-composed spelling of the same text hash
// differently.
func NormalizeBlockContent(s string) string {
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t\r")
	}
	joined := strings.Join(lines, "\n")
	joined = strings.TrimRight(joined, "\n")
	return joined + "\n"
}

// HashBlock digests block_type, a single NUL byte, then normalized_content.
func HashBlock(blockType, content string) Digest {
	norm := NormalizeBlockContent(content)
	buf := make([]byte, 0, len(blockType)+1+len(norm))
	buf = append(buf, blockType...)
	buf = append(buf, 0)
	buf = append(buf, norm...)
	return HashBytes(buf)
}
