// Package keyhash computes stable 64-bit hashes for the key types tiercache
// supports: signed/unsigned integers, strings, []byte, and fixed tuples of
// those. Integer keys get an avalanche-quality finaliser (splitmix64 style);
// string/[]byte keys are mixed byte-wise via hash/maphash.
//
// © 2025 tiercache authors. MIT License.
package keyhash

import (
	"hash/maphash"

	"github.com/tiercache/tiercache/internal/unsafehelpers"
)

// seed is process-wide: maphash requires a consistent seed per Hash call
// sequence, and we have no per-shard state left to own one (the concurrent
// map is no longer sharded — see internal/cmap).
var seed = maphash.MakeSeed()

// avalanche is the splitmix64 finaliser. It turns a poorly-distributed
// integer key (sequential IDs, small tuples) into a well-distributed 64-bit
// hash so that bucket assignment in internal/cmap doesn't cluster.
func avalanche(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Int hashes any integer-ish scalar key by its bit pattern.
func Int[T ~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64](v T) uint64 {
	return avalanche(uint64(v))
}

// String mixes a string key with the process seed via maphash.
func String(s string) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	h.WriteString(s)
	return h.Sum64()
}

// Bytes mixes a []byte key the same way as String.
func Bytes(b []byte) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	h.Write(b)
	return h.Sum64()
}

// Tuple2 combines two already-hashed components with the avalanche
// finaliser so that (a,b) and (b,a) hash differently and small changes in
// either component ripple through every bit.
func Tuple2(a, b uint64) uint64 {
	return avalanche(a ^ avalanche(b+0x9e3779b97f4a7c15))
}

// Of hashes an arbitrary comparable key. It type-switches over the common
// cases (string, []byte, fixed-width integers) and falls back to hashing
// the value's raw bytes via unsafehelpers — mirroring the teacher's
// shard.hash type switch, generalized to a package-level function usable
// outside of any map shard.
func Of[K comparable](key K) uint64 {
	switch k := any(key).(type) {
	case string:
		return String(k)
	case []byte:
		return Bytes(k)
	case int:
		return Int(k)
	case int8:
		return Int(k)
	case int16:
		return Int(k)
	case int32:
		return Int(k)
	case int64:
		return Int(k)
	case uint:
		return Int(k)
	case uint8:
		return Int(k)
	case uint16:
		return Int(k)
	case uint32:
		return Int(k)
	case uint64:
		return Int(k)
	default:
		return Bytes(unsafehelpers.ByteSliceFromValue(&key))
	}
}
