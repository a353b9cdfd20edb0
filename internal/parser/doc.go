// Package parser decodes positional data frames into model messages.
//
// Each message type is described by a field table: an ordered list of
// broker column names and decoders. A frame must carry exactly
// count × len(table) values; any mismatch or conversion failure is
// reported as a *FrameParseError naming the offending column.
//
// Personal-fill payloads are base64 text, optionally AES encrypted. Key
// failures come back as *decrypt.CryptoError rather than a parse error.
package parser
