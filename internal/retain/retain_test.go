package retain

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"time"

	"doorwatch/internal/logic"
	"doorwatch/internal/traffic"
)

func sampleRecord() Record {
	return Record{
		State:   traffic.StateDoorPending,
		ArmedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Motion:  logic.LevelIdle,
		Door:    logic.LevelActive,
		SavedAt: time.Date(2026, 1, 1, 12, 0, 1, 0, time.UTC),
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	want := sampleRecord()
	got, ok := Unmarshal(Marshal(want))
	if !ok {
		t.Fatal("round trip should decode")
	}
	if got.State != want.State {
		t.Errorf("state: expected %s, got %s", want.State, got.State)
	}
	if !got.ArmedAt.Equal(want.ArmedAt) {
		t.Errorf("armed at: expected %v, got %v", want.ArmedAt, got.ArmedAt)
	}
	if got.Motion != want.Motion || got.Door != want.Door {
		t.Errorf("levels: expected %s/%s, got %s/%s", want.Motion, want.Door, got.Motion, got.Door)
	}
	if !got.SavedAt.Equal(want.SavedAt) {
		t.Errorf("saved at: expected %v, got %v", want.SavedAt, got.SavedAt)
	}
}

func TestMarshalIdleRecordHasZeroTimes(t *testing.T) {
	rec := Record{State: traffic.StateIdle, Motion: logic.LevelIdle, Door: logic.LevelIdle}
	got, ok := Unmarshal(Marshal(rec))
	if !ok {
		t.Fatal("idle record should decode")
	}
	if !got.ArmedAt.IsZero() {
		t.Errorf("expected zero armed time, got %v", got.ArmedAt)
	}
	if !got.SavedAt.IsZero() {
		t.Errorf("expected zero saved time, got %v", got.SavedAt)
	}
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	data := Marshal(sampleRecord())
	if _, ok := Unmarshal(data[:len(data)-1]); ok {
		t.Error("truncated record should not decode")
	}
	if _, ok := Unmarshal(nil); ok {
		t.Error("empty record should not decode")
	}
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	data := Marshal(sampleRecord())
	data[0] = 'X'
	if _, ok := Unmarshal(data); ok {
		t.Error("record with wrong magic should not decode")
	}
}

func TestUnmarshalRejectsUnknownVersion(t *testing.T) {
	data := Marshal(sampleRecord())
	data[4] = 99
	if _, ok := Unmarshal(data); ok {
		t.Error("record from an unknown version should not decode")
	}
}

func TestUnmarshalRejectsFlippedBit(t *testing.T) {
	data := Marshal(sampleRecord())
	data[9] ^= 0x40
	if _, ok := Unmarshal(data); ok {
		t.Error("record with a flipped payload bit should fail the checksum")
	}
}

func TestUnmarshalRejectsBadStateByte(t *testing.T) {
	data := Marshal(sampleRecord())
	data[5] = 7
	// Fix the checksum up so the state check is the one under test
	binary.BigEndian.PutUint32(data[28:32], crc32.ChecksumIEEE(data[:28]))
	if _, ok := Unmarshal(data); ok {
		t.Error("record with an unknown state byte should not decode")
	}
}

func TestFileStoreLoadMissingIsColdBoot(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.bin"))
	_, ok, err := s.Load()
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if ok {
		t.Error("missing file should load as absent")
	}
}

func TestFileStoreSaveLoad(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.bin"))
	want := sampleRecord()

	if err := s.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !ok {
		t.Fatal("saved record should load")
	}
	if got.State != want.State || !got.ArmedAt.Equal(want.ArmedAt) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestFileStoreSaveReplacesRecord(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.bin"))

	if err := s.Save(sampleRecord()); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	second := Record{State: traffic.StateIdle, Motion: logic.LevelActive, Door: logic.LevelIdle}
	if err := s.Save(second); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("Load failed: ok=%v err=%v", ok, err)
	}
	if got.State != traffic.StateIdle || got.Motion != logic.LevelActive {
		t.Errorf("expected the second record, got %+v", got)
	}
}

func TestFileStoreCorruptFileIsColdBoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	if err := os.WriteFile(path, []byte("not a record"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)
	_, ok, err := s.Load()
	if err != nil {
		t.Fatalf("corrupt file should not error: %v", err)
	}
	if ok {
		t.Error("corrupt file should load as absent")
	}
}

func TestFileStoreClear(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.bin"))
	if err := s.Save(sampleRecord()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok, _ := s.Load(); ok {
		t.Error("record should be gone after Clear")
	}
	// Clearing twice is fine
	if err := s.Clear(); err != nil {
		t.Errorf("second Clear should not error: %v", err)
	}
}
