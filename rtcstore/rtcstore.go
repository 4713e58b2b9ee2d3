// Package rtcstore keeps the part of the chip state that survives a reset or
// deep sleep: the latched reset reason, the wake timer and a boot counter.
// On silicon this lives in the RTC domain; the board emulator keeps it in a
// Store so that the next emulated boot, possibly in another process, can read
// it back.
package rtcstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sigurn/crc16"
)

var (
	ErrNoRecord = errors.New("rtcstore: no record")
	ErrCorrupt  = errors.New("rtcstore: corrupt record")
	ErrLocked   = errors.New("rtcstore: state is in use by another board")
)

// Record is the retained state.
type Record struct {
	ResetReason uint32 `yaml:"reset_reason"`  // raw RTC_CNTL reset reason for the next boot
	BootCount   uint32 `yaml:"boot_count"`    // boots since the record was created
	TimedWake   bool   `yaml:"timed_wake"`    // deep sleep armed the RTC timer
	WakeAfterUS uint64 `yaml:"wake_after_us"` // RTC timer value when TimedWake is set
}

// Store loads and saves the retained state.
type Store interface {
	// Load returns ErrNoRecord if nothing was saved yet, which the board
	// treats as a power-on.
	Load() (Record, error)
	Save(Record) error
	Clear() error
}

const (
	magic      = "RTCM"
	version    = 1
	recordSize = 4 + 1 + 4 + 4 + 1 + 8 + 2
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Marshal encodes r in the fixed binary layout, followed by a CRC-16.
func (r Record) Marshal() []byte {
	b := make([]byte, 0, recordSize)
	b = append(b, magic...)
	b = append(b, version)
	b = binary.LittleEndian.AppendUint32(b, r.ResetReason)
	b = binary.LittleEndian.AppendUint32(b, r.BootCount)
	if r.TimedWake {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = binary.LittleEndian.AppendUint64(b, r.WakeAfterUS)
	return binary.LittleEndian.AppendUint16(b, crc16.Checksum(b, crcTable))
}

// Unmarshal decodes a record produced by Marshal.
func Unmarshal(b []byte) (Record, error) {
	if len(b) != recordSize {
		return Record{}, fmt.Errorf("%w: %d bytes, want %d", ErrCorrupt, len(b), recordSize)
	}
	body, sum := b[:recordSize-2], binary.LittleEndian.Uint16(b[recordSize-2:])
	if got := crc16.Checksum(body, crcTable); got != sum {
		return Record{}, fmt.Errorf("%w: checksum %#04x, want %#04x", ErrCorrupt, got, sum)
	}
	if string(body[:4]) != magic || body[4] != version {
		return Record{}, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	return Record{
		ResetReason: binary.LittleEndian.Uint32(body[5:]),
		BootCount:   binary.LittleEndian.Uint32(body[9:]),
		TimedWake:   body[13] != 0,
		WakeAfterUS: binary.LittleEndian.Uint64(body[14:]),
	}, nil
}

// MemoryStore keeps the record in memory. Its zero value is empty and ready
// to use.
type MemoryStore struct {
	mu  sync.Mutex
	buf []byte
}

func (s *MemoryStore) Load() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return Record{}, ErrNoRecord
	}
	return Unmarshal(s.buf)
}

func (s *MemoryStore) Save(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = r.Marshal()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	return nil
}
