package crypto

import (
	"bytes"
	"fmt"

	"github.com/vaultsandbox/e2ee-go/internal/envelope"
)

// Member is a group participant at send time.
type Member struct {
	Sub       string
	PublicKey []byte
}

func groupContentAAD(senderPub []byte) []byte {
	aad := make([]byte, 0, 16+PublicKeySize)
	aad = append(aad, "e2ee:group:v1"...)
	aad = append(aad, byte(EnvelopeVersion))
	return append(aad, senderPub...)
}

func wrapAAD(context string, senderPub, recipientPub []byte, sub string) []byte {
	aad := make([]byte, 0, len(context)+1+2*PublicKeySize+len(sub))
	aad = append(aad, context...)
	aad = append(aad, byte(EnvelopeVersion))
	aad = append(aad, senderPub...)
	aad = append(aad, recipientPub...)
	return append(aad, sub...)
}

// wrapContentKey encrypts a content key to one member.
func wrapContentKey(context string, contentKey, senderPrivateKey, senderPub []byte, m Member) (envelope.Wrap, error) {
	key, err := deriveWrapKey(senderPrivateKey, m.PublicKey, context)
	if err != nil {
		return envelope.Wrap{}, fmt.Errorf("%w: %s: %v", ErrInvalidMember, m.Sub, err)
	}
	defer zero(key)

	nonce, wrapped, err := sealAESGCM(key, contentKey, wrapAAD(context, senderPub, m.PublicKey, m.Sub))
	if err != nil {
		return envelope.Wrap{}, err
	}

	return envelope.Wrap{
		RecipientSub:       m.Sub,
		RecipientPublicKey: ToHex(m.PublicKey),
		WrapNonce:          ToBase64URL(nonce),
		WrappedKey:         ToBase64URL(wrapped),
	}, nil
}

// unwrapContentKey recovers a content key from the caller's wrap.
func unwrapContentKey(context string, w envelope.Wrap, privateKey, senderPub []byte) ([]byte, error) {
	recipientPub, err := decodeKeyField("recipientPublicKey", w.RecipientPublicKey)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeField("wrapNonce", w.WrapNonce, AESNonceSize)
	if err != nil {
		return nil, err
	}
	wrapped, err := decodeField("wrappedKey", w.WrappedKey, ContentKeySize+AESTagSize)
	if err != nil {
		return nil, err
	}

	key, err := deriveWrapKey(privateKey, senderPub, context)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	return openAESGCM(key, nonce, wrapped, wrapAAD(context, senderPub, recipientPub, w.RecipientSub))
}

// fanOut wraps contentKey to every member. The sender must be a member so it
// can reopen its own messages.
func fanOut(context string, contentKey, senderPrivateKey, senderPub []byte, members []Member) ([]envelope.Wrap, error) {
	if len(members) == 0 {
		return nil, ErrSenderNotMember
	}

	seen := make(map[string]struct{}, len(members))
	senderIncluded := false
	wraps := make([]envelope.Wrap, 0, len(members))

	for _, m := range members {
		if m.Sub == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidMember)
		}
		if len(m.PublicKey) != PublicKeySize {
			return nil, fmt.Errorf("%w: %s: public key has %d bytes", ErrInvalidMember, m.Sub, len(m.PublicKey))
		}
		if _, dup := seen[m.Sub]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, m.Sub)
		}
		seen[m.Sub] = struct{}{}
		if bytes.Equal(m.PublicKey, senderPub) {
			senderIncluded = true
		}

		w, err := wrapContentKey(context, contentKey, senderPrivateKey, senderPub, m)
		if err != nil {
			return nil, err
		}
		wraps = append(wraps, w)
	}

	if !senderIncluded {
		return nil, ErrSenderNotMember
	}
	return wraps, nil
}

// EncryptGroup encrypts plaintext once under a fresh content key and wraps
// that key to every member. Members must include the sender.
func EncryptGroup(plaintext, senderPrivateKey []byte, members []Member) (*envelope.Group, error) {
	senderPub, err := DerivePublicKey(senderPrivateKey)
	if err != nil {
		return nil, err
	}

	contentKey, err := randomBytes(ContentKeySize)
	if err != nil {
		return nil, err
	}
	defer zero(contentKey)

	wraps, err := fanOut(GroupWrapContext, contentKey, senderPrivateKey, senderPub, members)
	if err != nil {
		return nil, err
	}

	nonce, ct, err := sealAESGCM(contentKey, plaintext, groupContentAAD(senderPub))
	if err != nil {
		return nil, err
	}

	return &envelope.Group{
		V:                 EnvelopeVersion,
		SenderPublicKey:   ToHex(senderPub),
		ContentNonce:      ToBase64URL(nonce),
		ContentCiphertext: ToBase64URL(ct),
		Wraps:             wraps,
	}, nil
}

// DecryptGroup opens a group envelope for mySub. It returns ErrNotRecipient
// when the envelope has no wrap for mySub, and ErrDecryptionFailed on any
// authentication failure.
func DecryptGroup(env *envelope.Group, myPrivateKey []byte, mySub string) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	if env.V != EnvelopeVersion {
		return nil, fmt.Errorf("%w: group version %d", ErrUnsupportedVersion, env.V)
	}

	w, ok := env.FindWrap(mySub)
	if !ok {
		return nil, ErrNotRecipient
	}

	senderPub, err := decodeKeyField("senderPublicKey", env.SenderPublicKey)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeField("contentNonce", env.ContentNonce, AESNonceSize)
	if err != nil {
		return nil, err
	}
	ct, err := decodeField("contentCiphertext", env.ContentCiphertext, -1)
	if err != nil {
		return nil, err
	}

	contentKey, err := unwrapContentKey(GroupWrapContext, w, myPrivateKey, senderPub)
	if err != nil {
		return nil, err
	}
	defer zero(contentKey)

	return openAESGCM(contentKey, nonce, ct, groupContentAAD(senderPub))
}
