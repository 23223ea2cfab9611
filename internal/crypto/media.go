package crypto

import (
	"bytes"
	"fmt"

	"github.com/vaultsandbox/e2ee-go/internal/envelope"
)

// Attachment parts. The part is bound into the AEAD associated data so a
// thumbnail ciphertext can never be opened as the full file or vice versa.
const (
	partFull  = "full"
	partThumb = "thumb"
)

func mediaAAD(part, kind string) []byte {
	aad := make([]byte, 0, 32+len(kind))
	aad = append(aad, "e2ee:media:v1:"...)
	aad = append(aad, part...)
	aad = append(aad, ':')
	return append(aad, kind...)
}

// NewContentKey returns a fresh random content key.
func NewContentKey() ([]byte, error) {
	return randomBytes(ContentKeySize)
}

// EncryptAttachment encrypts a full file under a new content key.
// It returns the ciphertext, its nonce, and the content key.
func EncryptAttachment(data []byte, kind string) (ciphertext, nonce, contentKey []byte, err error) {
	contentKey, err = NewContentKey()
	if err != nil {
		return nil, nil, nil, err
	}
	nonce, ciphertext, err = sealAESGCM(contentKey, data, mediaAAD(partFull, kind))
	if err != nil {
		return nil, nil, nil, err
	}
	return ciphertext, nonce, contentKey, nil
}

// EncryptThumbnail encrypts a thumbnail under an existing content key with
// its own nonce.
func EncryptThumbnail(data []byte, kind string, contentKey []byte) (ciphertext, nonce []byte, err error) {
	nonce, ciphertext, err = sealAESGCM(contentKey, data, mediaAAD(partThumb, kind))
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, nonce, nil
}

// DecryptAttachment opens a full-file ciphertext.
func DecryptAttachment(ciphertext, nonce []byte, kind string, contentKey []byte) ([]byte, error) {
	return openAESGCM(contentKey, nonce, ciphertext, mediaAAD(partFull, kind))
}

// DecryptThumbnail opens a thumbnail ciphertext.
func DecryptThumbnail(ciphertext, nonce []byte, kind string, contentKey []byte) ([]byte, error) {
	return openAESGCM(contentKey, nonce, ciphertext, mediaAAD(partThumb, kind))
}

// SealedMedia is an attachment ready for upload: the envelope plus the two
// independent ciphertext blobs it describes.
type SealedMedia struct {
	Envelope  *envelope.Media
	File      []byte
	Thumbnail []byte
}

// sealMedia encrypts the file and optional thumbnail and fills in the
// content part of the wrap.
func sealMedia(info envelope.MediaInfo, file, thumb []byte) (*SealedMedia, []byte, error) {
	if thumb != nil && info.ThumbPath == "" {
		return nil, nil, fmt.Errorf("%w: thumbnail without thumbPath", ErrInvalidEnvelope)
	}

	fileCT, fileNonce, contentKey, err := EncryptAttachment(file, info.Kind)
	if err != nil {
		return nil, nil, err
	}

	sealed := &SealedMedia{
		Envelope: &envelope.Media{
			V:     EnvelopeVersion,
			Media: info,
			Wrap:  envelope.MediaWrap{ContentNonce: ToBase64URL(fileNonce)},
		},
		File: fileCT,
	}
	if sealed.Envelope.Media.Size == 0 {
		sealed.Envelope.Media.Size = int64(len(file))
	}

	if thumb != nil {
		thumbCT, thumbNonce, err := EncryptThumbnail(thumb, info.Kind, contentKey)
		if err != nil {
			zero(contentKey)
			return nil, nil, err
		}
		sealed.Thumbnail = thumbCT
		sealed.Envelope.Wrap.ThumbNonce = ToBase64URL(thumbNonce)
	} else {
		sealed.Envelope.Media.ThumbPath = ""
	}

	return sealed, contentKey, nil
}

// EncryptMediaForPeer encrypts an attachment for one recipient. The content
// key is wrapped the same way a DM is, so sender and recipient can both
// unwrap it.
func EncryptMediaForPeer(info envelope.MediaInfo, file, thumb, senderPrivateKey, recipientPublicKey []byte) (*SealedMedia, error) {
	senderPub, err := DerivePublicKey(senderPrivateKey)
	if err != nil {
		return nil, err
	}
	wrapKey, err := deriveWrapKey(senderPrivateKey, recipientPublicKey, MediaWrapContext)
	if err != nil {
		return nil, err
	}
	defer zero(wrapKey)

	sealed, contentKey, err := sealMedia(info, file, thumb)
	if err != nil {
		return nil, err
	}
	defer zero(contentKey)

	nonce, wrapped, err := sealAESGCM(wrapKey, contentKey, wrapAAD(MediaWrapContext, senderPub, recipientPublicKey, ""))
	if err != nil {
		return nil, err
	}

	w := &sealed.Envelope.Wrap
	w.SenderPublicKey = ToHex(senderPub)
	w.RecipientPublicKey = ToHex(recipientPublicKey)
	w.WrapNonce = ToBase64URL(nonce)
	w.WrappedKey = ToBase64URL(wrapped)
	return sealed, nil
}

// EncryptMediaForGroup encrypts an attachment once and fans the content key
// out to every member, exactly like a group message.
func EncryptMediaForGroup(info envelope.MediaInfo, file, thumb, senderPrivateKey []byte, members []Member) (*SealedMedia, error) {
	senderPub, err := DerivePublicKey(senderPrivateKey)
	if err != nil {
		return nil, err
	}

	sealed, contentKey, err := sealMedia(info, file, thumb)
	if err != nil {
		return nil, err
	}
	defer zero(contentKey)

	wraps, err := fanOut(MediaWrapContext, contentKey, senderPrivateKey, senderPub, members)
	if err != nil {
		return nil, err
	}

	sealed.Envelope.Wrap.SenderPublicKey = ToHex(senderPub)
	sealed.Envelope.Wrap.Wraps = wraps
	return sealed, nil
}

// OpenMediaKey unwraps the content key of an attachment envelope. mySub is
// only consulted for group attachments.
func OpenMediaKey(env *envelope.Media, privateKey []byte, mySub string) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	if env.V != EnvelopeVersion {
		return nil, fmt.Errorf("%w: media version %d", ErrUnsupportedVersion, env.V)
	}

	senderPub, err := decodeKeyField("senderPublicKey", env.Wrap.SenderPublicKey)
	if err != nil {
		return nil, err
	}

	if env.Wrap.IsGroup() {
		w, ok := env.Wrap.FindWrap(mySub)
		if !ok {
			return nil, ErrNotRecipient
		}
		return unwrapContentKey(MediaWrapContext, w, privateKey, senderPub)
	}

	recipientPub, err := decodeKeyField("recipientPublicKey", env.Wrap.RecipientPublicKey)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeField("wrapNonce", env.Wrap.WrapNonce, AESNonceSize)
	if err != nil {
		return nil, err
	}
	wrapped, err := decodeField("wrappedKey", env.Wrap.WrappedKey, ContentKeySize+AESTagSize)
	if err != nil {
		return nil, err
	}

	myPub, err := DerivePublicKey(privateKey)
	if err != nil {
		return nil, err
	}
	counterparty := senderPub
	if bytes.Equal(myPub, senderPub) {
		counterparty = recipientPub
	}

	key, err := deriveWrapKey(privateKey, counterparty, MediaWrapContext)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	return openAESGCM(key, nonce, wrapped, wrapAAD(MediaWrapContext, senderPub, recipientPub, ""))
}

// OpenThumbnail decrypts only the thumbnail blob of an attachment.
func OpenThumbnail(env *envelope.Media, contentKey, ciphertext []byte) ([]byte, error) {
	if env.Wrap.ThumbNonce == "" {
		return nil, fmt.Errorf("%w: attachment has no thumbnail", ErrInvalidEnvelope)
	}
	nonce, err := decodeField("thumbNonce", env.Wrap.ThumbNonce, AESNonceSize)
	if err != nil {
		return nil, err
	}
	return DecryptThumbnail(ciphertext, nonce, env.Media.Kind, contentKey)
}

// OpenFile decrypts the full-file blob of an attachment.
func OpenFile(env *envelope.Media, contentKey, ciphertext []byte) ([]byte, error) {
	nonce, err := decodeField("contentNonce", env.Wrap.ContentNonce, AESNonceSize)
	if err != nil {
		return nil, err
	}
	return DecryptAttachment(ciphertext, nonce, env.Media.Kind, contentKey)
}
