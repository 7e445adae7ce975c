// Package unsafehelpers centralises every unavoidable use of the `unsafe`
// standard-library package so the rest of tiercache stays auditable from one
// place. Every helper documents its pre/post-conditions.
//
// DISCLAIMER: these helpers deliberately step outside the Go memory-safety
// model for zero-allocation conversions. They are internal; callers outside
// this module must not depend on them.
//
// © 2025 tiercache authors. MIT License.
package unsafehelpers

import "unsafe"

// ByteSliceFromValue returns a read-only []byte view over the raw bytes of
// *v. Used by internal/keyhash to hash scalar/struct keys that aren't
// string, []byte, or a plain integer.
func ByteSliceFromValue[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}
