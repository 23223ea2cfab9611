package envelope

import "encoding/json"

// Kind tags an envelope variant on the wire.
type Kind string

const (
	KindDM    Kind = "dm"
	KindGroup Kind = "group"
	KindMedia Kind = "media"
)

// Version is the envelope version produced by this package.
const Version = 1

// Envelope is implemented by every decoded variant.
type Envelope interface {
	EnvelopeKind() Kind
	EnvelopeVersion() int
}

// DM is a pairwise encrypted message.
type DM struct {
	V                  int    `json:"v"`
	SenderPublicKey    string `json:"senderPublicKey"`
	RecipientPublicKey string `json:"recipientPublicKey,omitempty"`
	Nonce              string `json:"nonce"`
	Ciphertext         string `json:"ciphertext"`
}

// EnvelopeKind implements Envelope.
func (*DM) EnvelopeKind() Kind { return KindDM }

// EnvelopeVersion implements Envelope.
func (e *DM) EnvelopeVersion() int { return e.V }

// Wrap is one recipient's copy of a content key.
type Wrap struct {
	RecipientSub       string `json:"recipientSub"`
	RecipientPublicKey string `json:"recipientPublicKey"`
	WrapNonce          string `json:"wrapNonce"`
	WrappedKey         string `json:"wrappedKey"`
}

// Group is a message encrypted once under a content key that is wrapped to
// every member active at send time.
type Group struct {
	V                 int    `json:"v"`
	SenderPublicKey   string `json:"senderPublicKey"`
	ContentNonce      string `json:"contentNonce"`
	ContentCiphertext string `json:"contentCiphertext"`
	Wraps             []Wrap `json:"wraps"`
}

// EnvelopeKind implements Envelope.
func (*Group) EnvelopeKind() Kind { return KindGroup }

// EnvelopeVersion implements Envelope.
func (e *Group) EnvelopeVersion() int { return e.V }

// FindWrap returns the wrap addressed to sub, if any.
func (e *Group) FindWrap(sub string) (Wrap, bool) {
	return findWrap(e.Wraps, sub)
}

func findWrap(wraps []Wrap, sub string) (Wrap, bool) {
	for _, w := range wraps {
		if w.RecipientSub == sub {
			return w, true
		}
	}
	return Wrap{}, false
}

// MediaInfo describes an attachment. Ciphertext blobs live at Path and
// ThumbPath in external storage.
type MediaInfo struct {
	Kind        string `json:"kind"`
	FileName    string `json:"fileName"`
	Path        string `json:"path"`
	ThumbPath   string `json:"thumbPath,omitempty"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// MediaWrap carries the attachment content key and nonces.
//
// Pairwise attachments set RecipientPublicKey, WrapNonce and WrappedKey.
// Group attachments set Wraps instead.
type MediaWrap struct {
	SenderPublicKey    string `json:"senderPublicKey"`
	RecipientPublicKey string `json:"recipientPublicKey,omitempty"`
	WrapNonce          string `json:"wrapNonce,omitempty"`
	WrappedKey         string `json:"wrappedKey,omitempty"`
	Wraps              []Wrap `json:"wraps,omitempty"`
	ContentNonce       string `json:"contentNonce"`
	ThumbNonce         string `json:"thumbNonce,omitempty"`
}

// IsGroup reports whether the content key is fanned out per member.
func (w *MediaWrap) IsGroup() bool {
	return len(w.Wraps) > 0
}

// FindWrap returns the per-member wrap addressed to sub, if any.
func (w *MediaWrap) FindWrap(sub string) (Wrap, bool) {
	return findWrap(w.Wraps, sub)
}

// Media is an encrypted attachment descriptor.
type Media struct {
	V     int       `json:"v"`
	Media MediaInfo `json:"media"`
	Wrap  MediaWrap `json:"wrap"`
}

// EnvelopeKind implements Envelope.
func (*Media) EnvelopeKind() Kind { return KindMedia }

// EnvelopeVersion implements Envelope.
func (e *Media) EnvelopeVersion() int { return e.V }

// Unknown is a well-formed envelope of a kind this package does not decode.
type Unknown struct {
	Kind Kind
	V    int
	Raw  json.RawMessage
}

// EnvelopeKind implements Envelope.
func (e *Unknown) EnvelopeKind() Kind { return e.Kind }

// EnvelopeVersion implements Envelope.
func (e *Unknown) EnvelopeVersion() int { return e.V }
