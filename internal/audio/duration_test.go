package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeWAV builds a minimal PCM RIFF file with the given byte rate and
// data payload size.
func writeWAV(t *testing.T, byteRate uint32, dataSize uint32) string {
	t.Helper()

	buf := make([]byte, 0, 44)
	buf = append(buf, []byte("RIFF")...)
	buf = binary.LittleEndian.AppendUint32(buf, 36+dataSize)
	buf = append(buf, []byte("WAVE")...)

	buf = append(buf, []byte("fmt ")...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:2], 1)  // PCM
	binary.LittleEndian.PutUint16(fmtChunk[2:4], 1)  // mono
	binary.LittleEndian.PutUint32(fmtChunk[4:8], byteRate)
	binary.LittleEndian.PutUint32(fmtChunk[8:12], byteRate)
	binary.LittleEndian.PutUint16(fmtChunk[12:14], 1)
	binary.LittleEndian.PutUint16(fmtChunk[14:16], 8)
	buf = append(buf, fmtChunk...)

	buf = append(buf, []byte("data")...)
	buf = binary.LittleEndian.AppendUint32(buf, dataSize)
	buf = append(buf, make([]byte, dataSize)...)

	path := filepath.Join(t.TempDir(), "probe.wav")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestDurationReadsWAVHeader(t *testing.T) {
	t.Parallel()

	// 16000 bytes at 8000 B/s is two seconds of audio.
	path := writeWAV(t, 8000, 16000)
	d, err := Duration(path)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if d != 2*time.Second {
		t.Fatalf("expected 2s, got %s", d)
	}
}

func TestDurationRejectsNonRIFF(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("this is not audio at all"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Duration(path); err == nil {
		t.Fatalf("expected error for non-RIFF file")
	}
}

func TestDurationUnknownExtension(t *testing.T) {
	t.Parallel()

	if _, err := Duration("/tmp/something.ogg"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
