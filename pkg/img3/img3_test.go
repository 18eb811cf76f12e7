package img3

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildFixture assembles a minimal but well-formed IMG3 container with a
// TYPE tag, a DATA tag and a signature (SHSH) tag, so tests don't depend on
// a real firmware component on disk.
func buildFixture(t *testing.T, sig []byte) []byte {
	t.Helper()

	mkTag := func(magic string, data []byte) []byte {
		var buf bytes.Buffer
		th := TagHeader{DataLength: uint32(len(data))}
		copy(th.Magic[:], reverseBytes([]byte(magic)))
		headerSize := uint32(binary.Size(TagHeader{}))
		pad := (4 - (headerSize+th.DataLength)%4) % 4
		th.TotalLength = headerSize + th.DataLength + pad
		if err := binary.Write(&buf, binary.LittleEndian, &th); err != nil {
			t.Fatalf("write tag header: %v", err)
		}
		buf.Write(data)
		buf.Write(make([]byte, pad))
		return buf.Bytes()
	}

	typeTag := mkTag("TYPE", []byte(reverseBytes([]byte("ibot"))))
	dataTag := mkTag("DATA", []byte("firmware-payload"))
	sigTag := mkTag(TagSignature, sig)

	var hdr Header
	copy(hdr.Magic[:], reverseBytes([]byte(Magic)))
	copy(hdr.Ident[:], []byte("ibot"))
	hdr.FullSize = uint32(binary.Size(Header{})) + uint32(len(typeTag)+len(dataTag)+len(sigTag))
	hdr.SizeNoPack = hdr.FullSize

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, &hdr)
	out.Write(typeTag)
	out.Write(dataTag)
	out.Write(sigTag)

	return out.Bytes()
}

func TestParseImg3RoundTrip(t *testing.T) {
	raw := buildFixture(t, []byte("original-signature-bytes"))

	img, err := ParseImg3(raw)
	if err != nil {
		t.Fatalf("ParseImg3() error = %v", err)
	}
	if len(img.Tags) != 3 {
		t.Fatalf("got %d tags, want 3", len(img.Tags))
	}

	out, err := img.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Errorf("Serialize() did not round-trip unmodified container")
	}
}

func TestReplaceSignaturePreservesOtherChunks(t *testing.T) {
	raw := buildFixture(t, []byte("original-signature-bytes"))

	img, err := ParseImg3(raw)
	if err != nil {
		t.Fatalf("ParseImg3() error = %v", err)
	}

	dataBefore, err := img.GetDataTag()
	if err != nil {
		t.Fatalf("GetDataTag() error = %v", err)
	}

	blob := []byte("a-newly-issued-signature-blob-of-different-length")
	if err := img.ReplaceSignature(blob); err != nil {
		t.Fatalf("ReplaceSignature() error = %v", err)
	}

	out, err := img.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	reparsed, err := ParseImg3(out)
	if err != nil {
		t.Fatalf("ParseImg3() on serialized output error = %v", err)
	}

	_, sigTag, err := reparsed.GetSignatureTag()
	if err != nil {
		t.Fatalf("GetSignatureTag() error = %v", err)
	}
	if !bytes.Equal(sigTag.Data, blob) {
		t.Errorf("signature chunk payload = %q, want %q", sigTag.Data, blob)
	}

	dataAfter, err := reparsed.GetDataTag()
	if err != nil {
		t.Fatalf("GetDataTag() after replace error = %v", err)
	}
	if !bytes.Equal(dataBefore, dataAfter) {
		t.Errorf("DATA chunk changed across signature replacement: got %q, want %q", dataAfter, dataBefore)
	}
}

func TestReplaceSignatureNoSignatureChunk(t *testing.T) {
	img := &Img3{Tags: nil}

	if err := img.ReplaceSignature([]byte("x")); !errors.Is(err, ErrNoSignatureChunk) {
		t.Errorf("ReplaceSignature() error = %v, want ErrNoSignatureChunk", err)
	}
}

func TestParseImg3Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"truncated header", []byte{0x01, 0x02, 0x03}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseImg3(tt.data); !errors.Is(err, ErrContainerMalformed) {
				t.Errorf("ParseImg3() error = %v, want ErrContainerMalformed", err)
			}
		})
	}
}
