package crypto

import (
	"bytes"
	"fmt"

	"github.com/vaultsandbox/e2ee-go/internal/envelope"
)

// dmAAD binds the version and both public keys to the ciphertext.
func dmAAD(senderPub, recipientPub []byte) []byte {
	aad := make([]byte, 0, len(DMContext)+1+2*PublicKeySize)
	aad = append(aad, DMContext...)
	aad = append(aad, byte(EnvelopeVersion))
	aad = append(aad, senderPub...)
	return append(aad, recipientPub...)
}

// EncryptDM encrypts plaintext from the holder of senderPrivateKey to
// recipientPublicKey. The envelope embeds both public keys so either party
// can decrypt it later with DecryptDM.
func EncryptDM(plaintext, senderPrivateKey, recipientPublicKey []byte) (*envelope.DM, error) {
	senderPub, err := DerivePublicKey(senderPrivateKey)
	if err != nil {
		return nil, err
	}

	key, err := deriveWrapKey(senderPrivateKey, recipientPublicKey, DMContext)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	nonce, ct, err := sealAESGCM(key, plaintext, dmAAD(senderPub, recipientPublicKey))
	if err != nil {
		return nil, err
	}

	return &envelope.DM{
		V:                  EnvelopeVersion,
		SenderPublicKey:    ToHex(senderPub),
		RecipientPublicKey: ToHex(recipientPublicKey),
		Nonce:              ToBase64URL(nonce),
		Ciphertext:         ToBase64URL(ct),
	}, nil
}

// DecryptDM opens a pairwise envelope with the caller's private key.
//
// The recipient computes the shared secret against the embedded sender key.
// The sender, recognised by its own public key in the envelope, computes it
// against the embedded recipient key instead. Any tag failure returns
// ErrDecryptionFailed and no plaintext.
func DecryptDM(env *envelope.DM, privateKey []byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	if env.V != EnvelopeVersion {
		return nil, fmt.Errorf("%w: dm version %d", ErrUnsupportedVersion, env.V)
	}

	senderPub, err := decodeKeyField("senderPublicKey", env.SenderPublicKey)
	if err != nil {
		return nil, err
	}
	var recipientPub []byte
	if env.RecipientPublicKey != "" {
		if recipientPub, err = decodeKeyField("recipientPublicKey", env.RecipientPublicKey); err != nil {
			return nil, err
		}
	}
	nonce, err := decodeField("nonce", env.Nonce, AESNonceSize)
	if err != nil {
		return nil, err
	}
	ct, err := decodeField("ciphertext", env.Ciphertext, -1)
	if err != nil {
		return nil, err
	}

	myPub, err := DerivePublicKey(privateKey)
	if err != nil {
		return nil, err
	}

	counterparty := senderPub
	if recipientPub != nil && bytes.Equal(myPub, senderPub) {
		counterparty = recipientPub
	}
	if recipientPub == nil {
		// Without a recipient key only the recipient side can open the envelope.
		recipientPub = myPub
	}

	key, err := deriveWrapKey(privateKey, counterparty, DMContext)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	return openAESGCM(key, nonce, ct, dmAAD(senderPub, recipientPub))
}
