// Package decrypt opens personal-fill payloads.
//
// The broker encrypts each payload with AES-256-CBC using the key and iv
// strings returned in the subscribe acknowledgement. The strings are used
// as raw key material (32 and 16 ASCII bytes) and the plaintext is padded
// with zero bytes rather than PKCS#7.
package decrypt
