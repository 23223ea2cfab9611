// Package crypto provides the cryptographic primitives of the messaging core.
//
// # Algorithm Suite
//
//   - X25519: long-term identity keys and the key agreement behind every
//     pairwise message and every content-key wrap.
//
//   - HKDF-SHA-512 (RFC 5869): derives AES keys from X25519 shared secrets,
//     with a distinct info string per use ([DMContext], [GroupWrapContext],
//     [MediaWrapContext]).
//
//   - AES-256-GCM: message, content-key and attachment encryption. Every
//     seal uses a fresh random 12-byte nonce.
//
//   - scrypt / argon2id + ChaCha20-Poly1305: passphrase wrapping of the
//     private key for recovery. The KDF parameters travel with the blob and
//     are bound into the associated data.
//
// # Messages
//
// [EncryptDM] derives a key from the sender's private key and the
// recipient's public key. The envelope carries both public keys, so
// [DecryptDM] works for the recipient and for the sender reopening its own
// message.
//
// [EncryptGroup] encrypts the payload once under a random content key and
// wraps that key to each member present at send time. There is no
// retroactive re-wrap: members added later have no wrap and get
// [ErrNotRecipient], as do members removed before the send.
//
// Attachments reuse both constructions. [EncryptMediaForPeer] and
// [EncryptMediaForGroup] encrypt the file and thumbnail as separate blobs
// under one content key with different nonces, so [OpenThumbnail] never
// needs the full file.
//
// # Failure Semantics
//
// Authentication failures return [ErrDecryptionFailed] (or
// [ErrWrongPassphrase] for recovery blobs) and never partial plaintext.
// Structural problems return [ErrInvalidEnvelope] or [ErrInvalidRecoveryBlob].
//
// Keep private keys out of logs. Use [Fingerprint] to identify a key.
package crypto
