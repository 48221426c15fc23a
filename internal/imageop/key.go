package imageop

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"
	"math"
)

// Kind identifies an operation variant.
type Kind uint8

const (
	KindLoad Kind = iota + 1
	KindScale
	KindTile
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindScale:
		return "scale"
	case KindTile:
		return "tile"
	default:
		return "unknown"
	}
}

// Key is the content address of an operation: a SHA-256 digest over the
// variant tag, its parameters and, for derived operations, the parent key.
type Key [sha256.Size]byte

// String returns the hex digest.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Short returns the first 12 hex digits, for logs.
func (k Key) Short() string {
	return k.String()[:12]
}

type keyBuilder struct {
	buf []byte
}

func newKeyBuilder(kind Kind) *keyBuilder {
	b := &keyBuilder{buf: make([]byte, 0, 96)}
	b.buf = append(b.buf, byte(kind))
	return b
}

func (b *keyBuilder) key(k Key) *keyBuilder {
	b.buf = append(b.buf, k[:]...)
	return b
}

func (b *keyBuilder) str(s string) *keyBuilder {
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

func (b *keyBuilder) int(v int) *keyBuilder {
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(int64(v)))
	return b
}

func (b *keyBuilder) float(f float64) *keyBuilder {
	b.buf = binary.BigEndian.AppendUint64(b.buf, math.Float64bits(f))
	return b
}

func (b *keyBuilder) rect(r image.Rectangle) *keyBuilder {
	return b.int(r.Min.X).int(r.Min.Y).int(r.Max.X).int(r.Max.Y)
}

func (b *keyBuilder) sum() Key {
	return sha256.Sum256(b.buf)
}

func loadKey(path string) Key {
	return newKeyBuilder(KindLoad).str(path).sum()
}

func scaleKey(parent Key, factor float64) Key {
	return newKeyBuilder(KindScale).key(parent).float(factor).sum()
}

func tileKey(parent Key, tx, ty int, r image.Rectangle) Key {
	return newKeyBuilder(KindTile).key(parent).int(tx).int(ty).rect(r).sum()
}
