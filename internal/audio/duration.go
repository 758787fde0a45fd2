package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// Duration probes the playable length of a local audio file. WAV files
// are read from the header; MP3 files are measured by decoding metadata.
func Duration(path string) (time.Duration, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".wav"):
		return wavDuration(path)
	case strings.HasSuffix(strings.ToLower(path), ".mp3"):
		return mp3Duration(path)
	default:
		return 0, fmt.Errorf("cannot probe duration of %s", path)
	}
}

func wavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return 0, err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return 0, errors.New("not a RIFF/WAVE file")
	}

	var byteRate uint32
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(f, chunk[:]); err != nil {
			return 0, err
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			var format [16]byte
			if _, err := io.ReadFull(f, format[:]); err != nil {
				return 0, err
			}
			byteRate = binary.LittleEndian.Uint32(format[8:12])
			if size > 16 {
				if _, err := f.Seek(int64(size-16), io.SeekCurrent); err != nil {
					return 0, err
				}
			}
		case "data":
			if byteRate == 0 {
				return 0, errors.New("data chunk before fmt chunk")
			}
			seconds := float64(size) / float64(byteRate)
			return time.Duration(seconds * float64(time.Second)), nil
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return 0, err
			}
		}
	}
}

func mp3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, err
	}
	// The decoder emits 16-bit stereo samples regardless of source layout.
	samples := decoder.Length() / 4
	if samples <= 0 || decoder.SampleRate() <= 0 {
		return 0, errors.New("mp3 length unavailable")
	}
	seconds := float64(samples) / float64(decoder.SampleRate())
	return time.Duration(seconds * float64(time.Second)), nil
}
