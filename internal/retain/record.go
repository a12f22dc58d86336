// Package retain persists the correlator's state across power cycles. The
// record is deliberately tiny and fixed-format: the cycle-powered variant
// rewrites it once per wake and must be able to reject a half-written or
// stale file without guessing.
package retain

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"doorwatch/internal/logic"
	"doorwatch/internal/traffic"
)

// Record is the state carried across a power cycle: the correlator state,
// when its window was armed, and the sensor levels observed just before
// power-down. The levels let the next cycle decide whether a polled level
// is a new observation or the same one it went to sleep with.
type Record struct {
	State   traffic.State
	ArmedAt time.Time
	Motion  logic.Level
	Door    logic.Level
	SavedAt time.Time
}

// On-disk layout, 32 bytes total:
//
//	0  4  magic "DWRT"
//	4  1  version
//	5  1  state
//	6  1  motion level
//	7  1  door level
//	8  8  armed-at, unix nanoseconds, 0 = none
//	16 8  saved-at, unix nanoseconds, 0 = none
//	24 4  reserved, zero
//	28 4  CRC-32 (IEEE) of bytes 0..27
const (
	recordSize = 32
	version    = 1
)

var magic = [4]byte{'D', 'W', 'R', 'T'}

// Marshal encodes r into its fixed on-disk form.
func Marshal(r Record) []byte {
	buf := make([]byte, recordSize)
	copy(buf[0:4], magic[:])
	buf[4] = version
	buf[5] = stateByte(r.State)
	buf[6] = levelByte(r.Motion)
	buf[7] = levelByte(r.Door)
	binary.BigEndian.PutUint64(buf[8:16], uint64(unixNano(r.ArmedAt)))
	binary.BigEndian.PutUint64(buf[16:24], uint64(unixNano(r.SavedAt)))
	binary.BigEndian.PutUint32(buf[28:32], crc32.ChecksumIEEE(buf[:28]))
	return buf
}

// Unmarshal decodes b. The second result is false when the record is
// truncated, corrupt, from an unknown version, or otherwise unusable; a
// false record must be treated as a cold boot, never as an error.
func Unmarshal(b []byte) (Record, bool) {
	if len(b) != recordSize {
		return Record{}, false
	}
	if [4]byte(b[0:4]) != magic {
		return Record{}, false
	}
	if b[4] != version {
		return Record{}, false
	}
	if binary.BigEndian.Uint32(b[28:32]) != crc32.ChecksumIEEE(b[:28]) {
		return Record{}, false
	}

	state, ok := byteState(b[5])
	if !ok {
		return Record{}, false
	}
	motion, ok := byteLevel(b[6])
	if !ok {
		return Record{}, false
	}
	door, ok := byteLevel(b[7])
	if !ok {
		return Record{}, false
	}

	return Record{
		State:   state,
		ArmedAt: nanoTime(int64(binary.BigEndian.Uint64(b[8:16]))),
		Motion:  motion,
		Door:    door,
		SavedAt: nanoTime(int64(binary.BigEndian.Uint64(b[16:24]))),
	}, true
}

func stateByte(s traffic.State) byte {
	switch s {
	case traffic.StateMotionPending:
		return 1
	case traffic.StateDoorPending:
		return 2
	default:
		return 0
	}
}

func byteState(b byte) (traffic.State, bool) {
	switch b {
	case 0:
		return traffic.StateIdle, true
	case 1:
		return traffic.StateMotionPending, true
	case 2:
		return traffic.StateDoorPending, true
	}
	return traffic.StateIdle, false
}

func levelByte(l logic.Level) byte {
	if l == logic.LevelActive {
		return 1
	}
	return 0
}

func byteLevel(b byte) (logic.Level, bool) {
	switch b {
	case 0:
		return logic.LevelIdle, true
	case 1:
		return logic.LevelActive, true
	}
	return logic.LevelIdle, false
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
