package envelope

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecode_DM(t *testing.T) {
	in := &DM{
		V:                  Version,
		SenderPublicKey:    strings.Repeat("ab", 32),
		RecipientPublicKey: strings.Repeat("cd", 32),
		Nonce:              "AAAAAAAAAAAAAAAA",
		Ciphertext:         "Y2lwaGVydGV4dA",
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if raw["kind"] != "dm" {
		t.Errorf("kind = %v, want dm", raw["kind"])
	}
	if raw["v"] != float64(1) {
		t.Errorf("v = %v, want 1", raw["v"])
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	dm, ok := out.(*DM)
	if !ok {
		t.Fatalf("Decode() returned %T, want *DM", out)
	}
	if *dm != *in {
		t.Errorf("Decode() = %+v, want %+v", dm, in)
	}
}

func TestEncodeDecode_Group(t *testing.T) {
	in := &Group{
		V:                 Version,
		SenderPublicKey:   strings.Repeat("ab", 32),
		ContentNonce:      "bm9uY2U",
		ContentCiphertext: "Y3Q",
		Wraps: []Wrap{
			{RecipientSub: "alice", RecipientPublicKey: strings.Repeat("ab", 32), WrapNonce: "bg", WrappedKey: "aw"},
			{RecipientSub: "bob", RecipientPublicKey: strings.Repeat("cd", 32), WrapNonce: "bg", WrappedKey: "aw"},
		},
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	g, ok := out.(*Group)
	if !ok {
		t.Fatalf("Decode() returned %T, want *Group", out)
	}
	if len(g.Wraps) != 2 {
		t.Fatalf("len(Wraps) = %d, want 2", len(g.Wraps))
	}
	if w, ok := g.FindWrap("bob"); !ok || w.RecipientPublicKey != in.Wraps[1].RecipientPublicKey {
		t.Errorf("FindWrap(bob) = %+v, %v", w, ok)
	}
	if _, ok := g.FindWrap("carol"); ok {
		t.Error("FindWrap(carol) found a wrap")
	}
}

func TestEncodeDecode_Media(t *testing.T) {
	in := &Media{
		V: Version,
		Media: MediaInfo{
			Kind:        "image",
			FileName:    "cat.png",
			Path:        "media/1",
			ThumbPath:   "media/1.thumb",
			ContentType: "image/png",
			Size:        2048,
		},
		Wrap: MediaWrap{
			SenderPublicKey:    strings.Repeat("ab", 32),
			RecipientPublicKey: strings.Repeat("cd", 32),
			WrapNonce:          "bg",
			WrappedKey:         "aw",
			ContentNonce:       "Yw",
			ThumbNonce:         "dA",
		},
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	m, ok := out.(*Media)
	if !ok {
		t.Fatalf("Decode() returned %T, want *Media", out)
	}
	if m.Media != in.Media {
		t.Errorf("Media = %+v, want %+v", m.Media, in.Media)
	}
	if m.Wrap.IsGroup() {
		t.Error("IsGroup() = true for pairwise wrap")
	}
	if _, ok := m.Wrap.FindWrap("bob"); ok {
		t.Error("FindWrap() found a wrap in a pairwise envelope")
	}
}

func TestMediaWrap_FindWrap(t *testing.T) {
	w := MediaWrap{Wraps: []Wrap{
		{RecipientSub: "alice", RecipientPublicKey: "a"},
		{RecipientSub: "bob", RecipientPublicKey: "b"},
	}}
	if !w.IsGroup() {
		t.Error("IsGroup() = false with per-member wraps")
	}
	if got, ok := w.FindWrap("bob"); !ok || got.RecipientPublicKey != "b" {
		t.Errorf("FindWrap(bob) = %+v, %v", got, ok)
	}
	if _, ok := w.FindWrap("eve"); ok {
		t.Error("FindWrap(eve) found a wrap")
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	data := []byte(`{"kind":"poll","v":3,"question":"lunch?"}`)

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	u, ok := out.(*Unknown)
	if !ok {
		t.Fatalf("Decode() returned %T, want *Unknown", out)
	}
	if u.Kind != "poll" || u.V != 3 {
		t.Errorf("Unknown = {%s %d}, want {poll 3}", u.Kind, u.V)
	}

	reencoded, err := Encode(u)
	if err != nil {
		t.Fatalf("Encode(Unknown) error = %v", err)
	}
	if string(reencoded) != string(data) {
		t.Errorf("Encode(Unknown) = %s, want %s", reencoded, data)
	}
}

func TestDecode_Failures(t *testing.T) {
	key := strings.Repeat("ab", 32)
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"not json", `hello`},
		{"array", `[1,2,3]`},
		{"truncated", `{"kind":"dm","v":1`},
		{"missing kind", `{"v":1,"senderPublicKey":"` + key + `"}`},
		{"empty kind", `{"kind":"","v":1}`},
		{"missing version", `{"kind":"dm","senderPublicKey":"` + key + `","nonce":"a","ciphertext":"b"}`},
		{"null version", `{"kind":"dm","v":null}`},
		{"string version", `{"kind":"dm","v":"1"}`},
		{"unknown kind missing version", `{"kind":"poll"}`},
		{"future version", `{"kind":"dm","v":2,"senderPublicKey":"` + key + `","nonce":"a","ciphertext":"b"}`},
		{"version zero", `{"kind":"group","v":0}`},
		{"dm missing nonce", `{"kind":"dm","v":1,"senderPublicKey":"` + key + `","ciphertext":"b"}`},
		{"dm wrong field type", `{"kind":"dm","v":1,"senderPublicKey":5,"nonce":"a","ciphertext":"b"}`},
		{"group no wraps", `{"kind":"group","v":1,"senderPublicKey":"` + key + `","contentNonce":"a","contentCiphertext":"b","wraps":[]}`},
		{"media no key", `{"kind":"media","v":1,"media":{"kind":"image"},"wrap":{"senderPublicKey":"` + key + `","contentNonce":"a"}}`},
		{"media thumb without nonce", `{"kind":"media","v":1,"media":{"kind":"image","thumbPath":"t"},"wrap":{"senderPublicKey":"` + key + `","contentNonce":"a","wrappedKey":"k"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Decode([]byte(tt.input))
			if err == nil {
				t.Fatalf("Decode() = %T, want error", out)
			}
			if !errors.Is(err, ErrUnparseable) {
				t.Errorf("Decode() error = %v, want ErrUnparseable", err)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("Decode() error type = %T, want *ParseError", err)
			}
			if out != nil {
				t.Errorf("Decode() returned non-nil envelope %T on error", out)
			}
		})
	}
}

func TestEncode_Invalid(t *testing.T) {
	var nilDM *DM
	tests := []struct {
		name string
		env  Envelope
	}{
		{"nil interface", nil},
		{"nil dm", nilDM},
		{"empty unknown", &Unknown{Kind: "x", V: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.env); !errors.Is(err, ErrNotEncodable) {
				t.Errorf("Encode() error = %v, want ErrNotEncodable", err)
			}
		})
	}
}

func TestParseError_Message(t *testing.T) {
	err := &ParseError{Kind: KindDM, Reason: "missing version"}
	if got := err.Error(); got != "unparseable dm envelope: missing version" {
		t.Errorf("Error() = %q", got)
	}
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte(`{"kind":"dm","v":1,"senderPublicKey":"aa","nonce":"a","ciphertext":"b"}`))
	f.Add([]byte(`{"kind":"group","v":1}`))
	f.Add([]byte(`{}`))
	f.Fuzz(func(t *testing.T, data []byte) {
		env, err := Decode(data)
		if err == nil && env == nil {
			t.Fatal("Decode() returned nil envelope and nil error")
		}
		if err != nil && !errors.Is(err, ErrUnparseable) {
			t.Fatalf("Decode() error = %v, want ErrUnparseable", err)
		}
	})
}
