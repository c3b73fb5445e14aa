package wavglue

import "testing"

func synth(samples []byte, f Format) []byte {
	data, err := Encode(f, samples)
	if err != nil {
		panic(err)
	}
	return data
}

func TestParseRoundTrip(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	wav := synth(pcm, f)

	p, err := Parse(wav)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Format != f {
		t.Fatalf("format mismatch: got %+v want %+v", p.Format, f)
	}
	if string(p.PCM) != string(pcm) {
		t.Fatalf("pcm mismatch: got %v want %v", p.PCM, pcm)
	}
}

// TestGlueConcatenatesPCM: concatenating the PCM frames of
// every chunk equals the PCM payload of the Chunker's output.
func TestGlueConcatenatesPCM(t *testing.T) {
	f := Format{SampleRate: 22050, Channels: 1, BitsPerSample: 16}
	a := []byte{1, 2, 3, 4}
	b := []byte{5, 6, 7, 8}
	c := []byte{9, 10}

	chunks := []Parsed{
		{Format: f, PCM: a},
		{Format: f, PCM: b},
		{Format: f, PCM: c},
	}
	glued, err := Glue(chunks)
	if err != nil {
		t.Fatalf("Glue: %v", err)
	}

	reparsed, err := Parse(glued)
	if err != nil {
		t.Fatalf("Parse(glued): %v", err)
	}
	want := append(append(append([]byte{}, a...), b...), c...)
	if string(reparsed.PCM) != string(want) {
		t.Fatalf("glued pcm = %v, want %v", reparsed.PCM, want)
	}
	if reparsed.Format != f {
		t.Fatalf("glued format = %+v, want %+v", reparsed.Format, f)
	}
}

func TestGlueRejectsFormatMismatch(t *testing.T) {
	a := Parsed{Format: Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, PCM: []byte{1}}
	b := Parsed{Format: Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}, PCM: []byte{2}}
	if _, err := Glue([]Parsed{a, b}); err == nil {
		t.Fatalf("expected error for mismatched formats")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not a wav file")); err == nil {
		t.Fatalf("expected error for non-WAV input")
	}
}
