package envelope

import (
	"encoding/json"
	"fmt"
)

// header holds the tag fields read before the full variant is decoded.
// Pointers distinguish "absent" from zero values.
type header struct {
	Kind *Kind           `json:"kind"`
	V    json.RawMessage `json:"v"`
}

// Encode serializes an envelope with its kind tag.
func Encode(env Envelope) ([]byte, error) {
	switch e := env.(type) {
	case *DM:
		if e == nil {
			return nil, ErrNotEncodable
		}
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*DM
		}{KindDM, e})
	case *Group:
		if e == nil {
			return nil, ErrNotEncodable
		}
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*Group
		}{KindGroup, e})
	case *Media:
		if e == nil {
			return nil, ErrNotEncodable
		}
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*Media
		}{KindMedia, e})
	case *Unknown:
		if e == nil || len(e.Raw) == 0 {
			return nil, ErrNotEncodable
		}
		return append([]byte(nil), e.Raw...), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotEncodable, env)
	}
}

// Decode parses bytes into an envelope variant. It never panics; any failure
// is returned as *ParseError.
func Decode(data []byte) (Envelope, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, &ParseError{Reason: "malformed json", Err: err}
	}
	if h.Kind == nil || *h.Kind == "" {
		return nil, &ParseError{Reason: "missing kind"}
	}
	kind := *h.Kind

	if len(h.V) == 0 || string(h.V) == "null" {
		return nil, &ParseError{Kind: kind, Reason: "missing version"}
	}
	var v int
	if err := json.Unmarshal(h.V, &v); err != nil {
		return nil, &ParseError{Kind: kind, Reason: "version is not an integer", Err: err}
	}

	switch kind {
	case KindDM:
		var e DM
		if err := decodeVariant(kind, v, data, &e); err != nil {
			return nil, err
		}
		if e.SenderPublicKey == "" || e.Nonce == "" || e.Ciphertext == "" {
			return nil, &ParseError{Kind: kind, Reason: "missing required field"}
		}
		return &e, nil

	case KindGroup:
		var e Group
		if err := decodeVariant(kind, v, data, &e); err != nil {
			return nil, err
		}
		if e.SenderPublicKey == "" || e.ContentNonce == "" || e.ContentCiphertext == "" {
			return nil, &ParseError{Kind: kind, Reason: "missing required field"}
		}
		if len(e.Wraps) == 0 {
			return nil, &ParseError{Kind: kind, Reason: "no wraps"}
		}
		return &e, nil

	case KindMedia:
		var e Media
		if err := decodeVariant(kind, v, data, &e); err != nil {
			return nil, err
		}
		if e.Wrap.SenderPublicKey == "" || e.Wrap.ContentNonce == "" {
			return nil, &ParseError{Kind: kind, Reason: "missing required field"}
		}
		if !e.Wrap.IsGroup() && e.Wrap.WrappedKey == "" {
			return nil, &ParseError{Kind: kind, Reason: "missing content key wrap"}
		}
		if e.Media.ThumbPath != "" && e.Wrap.ThumbNonce == "" {
			return nil, &ParseError{Kind: kind, Reason: "thumbnail without nonce"}
		}
		return &e, nil

	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return &Unknown{Kind: kind, V: v, Raw: raw}, nil
	}
}

func decodeVariant(kind Kind, v int, data []byte, dst any) error {
	if v != Version {
		return &ParseError{Kind: kind, Reason: fmt.Sprintf("unsupported version %d", v)}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &ParseError{Kind: kind, Reason: "malformed body", Err: err}
	}
	return nil
}
