package image

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// Two 4-byte records at 0x10000 and 0x10010 with an extended linear address
// record, plus a start address.
const testHex = `:020000040001F9
:0400000001020304F2
:04001000AABBCCDDDE
:0400000500010000F6
:00000001FF
`

func TestParseHex(t *testing.T) {
	im, err := ParseHex(strings.NewReader(testHex))
	if err != nil {
		t.Fatal(err)
	}
	if len(im.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(im.Segments))
	}
	if im.Start() != AppOffset {
		t.Errorf("start %#x, want %#x", im.Start(), AppOffset)
	}
	if im.End() != AppOffset+0x14 {
		t.Errorf("end %#x, want %#x", im.End(), AppOffset+0x14)
	}
	if im.Size() != 8 {
		t.Errorf("size %d, want 8", im.Size())
	}
	if !im.HasEntry || im.Entry != AppOffset {
		t.Errorf("entry %#x (%v), want %#x", im.Entry, im.HasEntry, AppOffset)
	}
}

func TestParseHexErrors(t *testing.T) {
	for name, src := range map[string]string{
		"bad checksum": ":0400000001020304F3\n:00000001FF\n",
		"not hex":      "hello\n",
		"no data":      ":00000001FF\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseHex(strings.NewReader(src)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestFromBinary(t *testing.T) {
	if _, err := FromBinary(AppOffset, nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty binary: got %v, want ErrEmpty", err)
	}
	im, err := FromBinary(AppOffset, []byte("123456789"))
	if err != nil {
		t.Fatal(err)
	}
	// CRC-16/XMODEM check value.
	if got := im.CRC16(); got != 0x31c3 {
		t.Errorf("crc %#04x, want 0x31c3", got)
	}
}

func TestOverlap(t *testing.T) {
	im := &Image{Segments: []Segment{
		{Address: 0x100, Data: make([]byte, 0x20)},
		{Address: 0x110, Data: make([]byte, 4)},
	}}
	if err := im.check(); !errors.Is(err, ErrOverlap) {
		t.Errorf("got %v, want ErrOverlap", err)
	}
}

func TestWriteHexRoundTrip(t *testing.T) {
	im, err := ParseHex(strings.NewReader(testHex))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := im.WriteHex(&buf); err != nil {
		t.Fatal(err)
	}
	again, err := ParseHex(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if again.CRC16() != im.CRC16() || again.Size() != im.Size() || again.Start() != im.Start() {
		t.Errorf("round trip changed the image: %s vs %s", again.Summary(), im.Summary())
	}
}
