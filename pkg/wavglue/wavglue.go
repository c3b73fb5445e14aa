// Package wavglue is the one place raw-byte WAV work is mandatory: parsing
// the RIFF/fmt /data headers of a chunk, extracting its PCM payload, and
// rebuilding a single playable WAV from many TTS-provider chunks.
//
// Decoding validates each chunk's format against an expected sample rate,
// channel count, and bit depth before trusting its PCM payload; encoding
// builds the RIFF/fmt /data headers by hand via encoding/binary rather
// than re-decoding the concatenated PCM.
package wavglue

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cwbudde/wav"
)

// Format describes the PCM shape carried by a WAV container.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Parsed is one decoded chunk: its format plus the raw PCM bytes found in
// its "data" subchunk (not the float32-normalized samples — Chunker needs
// to concatenate the exact on-wire bytes, not re-quantize them).
type Parsed struct {
	Format Format
	PCM    []byte
}

// Parse reads a chunk's RIFF/fmt /data headers and returns its format and
// raw PCM payload found in its data subchunk.
func Parse(data []byte) (Parsed, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Parsed{}, fmt.Errorf("wavglue: not a valid WAV file")
	}
	pcm, err := rawDataSubchunk(data)
	if err != nil {
		return Parsed{}, err
	}
	return Parsed{
		Format: Format{
			SampleRate:    int(dec.SampleRate),
			Channels:      int(dec.NumChans),
			BitsPerSample: int(dec.BitDepth),
		},
		PCM: pcm,
	}, nil
}

// rawDataSubchunk walks the RIFF chunk list looking for "data" and returns
// its bytes verbatim (no float conversion, so concatenation is exact).
func rawDataSubchunk(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wavglue: missing RIFF/WAVE header")
	}
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		if id == "data" {
			return data[body : body+size], nil
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}
	return nil, fmt.Errorf("wavglue: no data subchunk found")
}

// Glue concatenates the PCM payload of every parsed chunk (after the
// first) onto the first chunk's format and rebuilds a single WAV container
// whose "data" size is the sum of every chunk's PCM length: the output is
// byte-exact concatenation of the input PCM, never a resample. All chunks
// must share the same sample rate, channel count, and bit depth.
func Glue(chunks []Parsed) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("wavglue: no chunks to glue")
	}
	format := chunks[0].Format
	var pcm bytes.Buffer
	for i, c := range chunks {
		if c.Format != format {
			return nil, fmt.Errorf("wavglue: chunk %d format %+v does not match first chunk %+v", i, c.Format, format)
		}
		pcm.Write(c.PCM)
	}
	return Encode(format, pcm.Bytes())
}

// Encode writes a complete RIFF/WAVE/fmt /data container around raw PCM
// bytes, for the given format, with a data size equal to len(pcm).
func Encode(f Format, pcm []byte) ([]byte, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitsPerSample <= 0 {
		return nil, fmt.Errorf("wavglue: invalid format %+v", f)
	}
	blockAlign := f.Channels * f.BitsPerSample / 8
	byteRate := f.SampleRate * blockAlign
	dataSize := uint32(len(pcm))
	riffSize := uint32(4+(8+16)+8) + dataSize

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.BitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	buf.Write(pcm)

	return buf.Bytes(), nil
}
