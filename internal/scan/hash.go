package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"
)

// DefaultChunkSize is the read window used by both hashers. Files smaller
// than three chunks are always hashed in full.
const DefaultChunkSize int64 = 1 << 20

// FailureKind classifies why a file was dropped from a hashing stage.
type FailureKind string

const (
	FailureVanished   FailureKind = "vanished"
	FailurePermission FailureKind = "permission"
	FailureIO         FailureKind = "io"
)

// FileFailure records a per-file I/O failure. Failures never abort a stage;
// they are aggregated so a caller can tell a vanished file from a permission
// problem from a misbehaving volume.
type FileFailure struct {
	Path string      `json:"path"`
	Kind FailureKind `json:"kind"`
	Err  string      `json:"error"`
}

func classifyFailure(path string, err error) FileFailure {
	kind := FailureIO
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = FailureVanished
	case errors.Is(err, fs.ErrPermission):
		kind = FailurePermission
	}
	return FileFailure{Path: path, Kind: kind, Err: err.Error()}
}

// Hasher computes file digests. ChunkSize controls both the sampling window
// of QuickHash and the read size of FullHash; ReadDelay, when non-zero,
// paces consecutive chunk reads within a single file so a wide pool does
// not saturate one volume with random access.
type Hasher struct {
	ChunkSize int64
	ReadDelay time.Duration
}

// NewHasher returns a Hasher with the default chunk size.
func NewHasher() *Hasher {
	return &Hasher{ChunkSize: DefaultChunkSize}
}

func (h *Hasher) chunkSize() int64 {
	if h.ChunkSize > 0 {
		return h.ChunkSize
	}
	return DefaultChunkSize
}

func (h *Hasher) pace() {
	if h.ReadDelay > 0 {
		time.Sleep(h.ReadDelay)
	}
}

// QuickHash returns a sampled digest: files smaller than three chunks are
// hashed in full, larger files hash the concatenation of the first chunk,
// the chunk starting at size/2, and the final chunk. Two files that agree
// on all three windows but differ in between collide here; full hashing is
// the corrective for that documented trade-off.
func (h *Hasher) QuickHash(path string) (string, error) {
	chunk := h.chunkSize()

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	size := info.Size()
	if size < 3*chunk {
		return h.FullHash(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := sha256.New()
	buf := make([]byte, chunk)
	for i, offset := range []int64{0, size / 2, size - chunk} {
		if i > 0 {
			h.pace()
		}
		if _, err := f.ReadAt(buf, offset); err != nil {
			return "", err
		}
		digest.Write(buf)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// FullHash streams the whole file through SHA-256 in chunk-size reads.
func (h *Hasher) FullHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := sha256.New()
	buf := make([]byte, h.chunkSize())
	first := true
	for {
		if !first {
			h.pace()
		}
		first = false
		n, err := f.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
