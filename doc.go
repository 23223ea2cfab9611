// Package e2ee is the end-to-end encryption core of a messaging client.
//
// Each account holds one long-term X25519 identity keypair per device.
// Direct messages are encrypted pairwise under a key derived from ECDH and
// HKDF; group messages and attachments are encrypted once under a fresh
// content key that is wrapped to every member. The private key can be
// backed up server-side, wrapped under a passphrase-derived key; the server
// only ever sees ciphertext, wrapped keys and public keys.
//
// Basic usage:
//
//	client, err := e2ee.New("alice",
//	    e2ee.WithServer("https://directory.example.com", token),
//	    e2ee.WithPrompter(prompter),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Load, restore or create the identity key
//	if _, err := client.EnsureIdentity(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Encrypt for Bob; the envelope bytes go over any transport
//	data, err := client.SendDM(ctx, "bob", []byte("hi"))
//
//	// Decrypt lazily, cached by message id
//	msg, err := client.Open("msg-1", data)
//
// Decryption failures never return partial plaintext. Use errors.Is with
// ErrDecryptFailed, ErrNotARecipient and ErrUnparseable to tell them apart,
// and Client.State to see whether a message was tried at all.
package e2ee
