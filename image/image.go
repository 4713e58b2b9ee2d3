// Package image loads application firmware images for the board emulator
// and reports on them.
//
// Images are Intel HEX files or raw binaries. Addresses are flash offsets;
// on the ESP32 the application partition conventionally starts at
// AppOffset.
package image

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/inhies/go-bytesize"
	"github.com/marcinbor85/gohex"
	"github.com/sigurn/crc16"
)

// AppOffset is the default flash offset of the factory app partition.
const AppOffset = 0x10000

var (
	ErrEmpty   = errors.New("image: no data")
	ErrOverlap = errors.New("image: overlapping segments")
)

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Segment is a contiguous run of bytes at a flash offset.
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns the first address past the segment.
func (s Segment) End() uint32 {
	return s.Address + uint32(len(s.Data))
}

// Image is a firmware image: a set of non-overlapping segments sorted by
// address.
type Image struct {
	Segments []Segment
	Entry    uint32 // start address, if HasEntry
	HasEntry bool
}

// ParseHex reads an Intel HEX file.
func ParseHex(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	im := &Image{}
	for _, seg := range mem.GetDataSegments() {
		im.Segments = append(im.Segments, Segment{Address: seg.Address, Data: seg.Data})
	}
	im.Entry, im.HasEntry = mem.GetStartAddress()
	if err := im.check(); err != nil {
		return nil, err
	}
	return im, nil
}

// FromBinary wraps a raw binary loaded at address.
func FromBinary(address uint32, data []byte) (*Image, error) {
	im := &Image{Segments: []Segment{{Address: address, Data: data}}}
	if err := im.check(); err != nil {
		return nil, err
	}
	return im, nil
}

func (im *Image) check() error {
	if len(im.Segments) == 0 || im.Size() == 0 {
		return ErrEmpty
	}
	sort.Slice(im.Segments, func(i, j int) bool {
		return im.Segments[i].Address < im.Segments[j].Address
	})
	for i := 1; i < len(im.Segments); i++ {
		if im.Segments[i].Address < im.Segments[i-1].End() {
			return fmt.Errorf("%w at %#x", ErrOverlap, im.Segments[i].Address)
		}
	}
	return nil
}

// Size returns the number of data bytes in the image.
func (im *Image) Size() uint64 {
	var n uint64
	for _, s := range im.Segments {
		n += uint64(len(s.Data))
	}
	return n
}

// Start returns the lowest address in the image.
func (im *Image) Start() uint32 {
	if len(im.Segments) == 0 {
		return 0
	}
	return im.Segments[0].Address
}

// End returns the first address past the image.
func (im *Image) End() uint32 {
	if len(im.Segments) == 0 {
		return 0
	}
	return im.Segments[len(im.Segments)-1].End()
}

// CRC16 returns the CRC-16/XMODEM of the segment data in address order.
func (im *Image) CRC16() uint16 {
	crc := crc16.Init(crcTable)
	for _, s := range im.Segments {
		crc = crc16.Update(crc, s.Data, crcTable)
	}
	return crc16.Complete(crc, crcTable)
}

// WriteHex writes the image as Intel HEX.
func (im *Image) WriteHex(w io.Writer) error {
	mem := gohex.NewMemory()
	for _, s := range im.Segments {
		if err := mem.AddBinary(s.Address, s.Data); err != nil {
			return fmt.Errorf("image: %w", err)
		}
	}
	if im.HasEntry {
		mem.SetStartAddress(im.Entry)
	}
	return mem.DumpIntelHex(w, 16)
}

// Summary describes the image in one line.
func (im *Image) Summary() string {
	return fmt.Sprintf("%d segment(s), %s at %#x-%#x, crc %#04x",
		len(im.Segments), bytesize.New(float64(im.Size())), im.Start(), im.End(), im.CRC16())
}
