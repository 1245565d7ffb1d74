// Package adaptive provides adaptive encryption for Beacon.
//
// This package implements a cipher abstraction whose New constructor
// picks the algorithm from the target architecture.
//
// Supported Algorithms:
//
//   - AES-GCM (16, 24 or 32-byte keys): chosen by New on amd64 and arm64
//   - ChaCha20-Poly1305 (32-byte keys): chosen by New on other architectures
//
// Features:
//
//   - Algorithm selection by runtime.GOARCH; CPU features are not probed
//   - AEAD: Authenticated encryption with associated data
//   - Thread Safety: All cipher operations are thread-safe
//
// Keys are used as given; the package does not derive keys from
// passwords.
//
// Usage:
//
//	cipher, err := adaptive.New(key)
//	encrypted, err := cipher.Encrypt(plaintext, aad)
//	plaintext, err := cipher.Decrypt(encrypted, aad)
//
// @adr AD-0201
package adaptive
