// Package envelope defines the wire formats exchanged over the transport and
// the codec that turns them into bytes and back.
//
// Every envelope is a JSON object with an explicit "kind" tag and integer
// "v" version. [Decode] never guesses: a missing or unsupported version, a
// missing kind, or malformed JSON all produce a [*ParseError], which matches
// [ErrUnparseable] via errors.Is. A well-formed object with a kind this
// package does not know decodes to [*Unknown] rather than failing, so callers
// can render it as unsupported content.
//
// Binary fields (nonces, ciphertexts, wrapped keys) are base64url without
// padding; public keys are lowercase hex. Field-level cryptographic
// validation (sizes, key encodings) belongs to the crypto package.
package envelope
