package capture

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
	"time"
)

func TestEncoderArgs(t *testing.T) {
	tests := []struct {
		mime   string
		codec  string
		format string
	}{
		{"audio/webm", "libopus", "webm"},
		{"audio/webm;codecs=vorbis", "libvorbis", "webm"},
		{"audio/ogg;codecs=opus", "libopus", "ogg"},
		{"audio/mp4", "aac", "mp4"},
		{"", "pcm_s16le", "wav"},
	}
	for _, tt := range tests {
		args, err := encoderArgs(tt.mime)
		if err != nil {
			t.Fatalf("%q: %v", tt.mime, err)
		}
		i := slices.Index(args, "-c:a")
		if i < 0 || args[i+1] != tt.codec {
			t.Errorf("%q: args %v, want codec %s", tt.mime, args, tt.codec)
		}
		if args[len(args)-3] != "-f" || args[len(args)-2] != tt.format || args[len(args)-1] != "pipe:1" {
			t.Errorf("%q: args %v, want container %s", tt.mime, args, tt.format)
		}
	}

	if _, err := encoderArgs("audio/flac"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("unknown encoding err = %v", err)
	}
}

func TestMP4IsFragmented(t *testing.T) {
	args, _ := encoderArgs("audio/mp4")
	if !slices.Contains(args, "frag_keyframe+empty_moov") {
		t.Errorf("mp4 args %v should stream without seeking", args)
	}
}

func TestCaptureArgs(t *testing.T) {
	args := captureArgs("pulse", "default")
	want := []string{"-f", "pulse", "-i", "default"}
	if !slices.Equal(args[3:7], want) {
		t.Errorf("args = %v", args)
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("capture should write to stdout: %v", args)
	}
}

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		stderr string
		want   error
	}{
		{"[avfoundation] Permission denied", ErrPermissionDenied},
		{"Input/output error: not authorized to capture", ErrPermissionDenied},
		{"default: No such device", ErrNoDevice},
		{"", ErrNoDevice},
	}
	for _, tt := range tests {
		if err := classifyStderr(tt.stderr); !errors.Is(err, tt.want) {
			t.Errorf("classifyStderr(%q) = %v, want %v", tt.stderr, err, tt.want)
		}
	}
}

func TestFFmpegDevicesSupports(t *testing.T) {
	d := FFmpegDevices{}
	if got := SelectEncoding(d.Supports); got != BestEncoding {
		t.Errorf("SelectEncoding = %q", got)
	}
	if d.Supports("audio/flac") {
		t.Error("flac should not be supported")
	}
}

func TestFFmpegMissingBinary(t *testing.T) {
	d := FFmpegDevices{Path: "/nonexistent/ffmpeg", Format: "pulse", MicInput: "default"}
	if _, err := d.Microphone(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestDisplayAudioUnconfigured(t *testing.T) {
	d := FFmpegDevices{Format: "pulse", MicInput: "default"}
	if _, err := d.DisplayAudio(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Errorf("err = %v, want ErrNoDevice", err)
	}
}

func TestStalledEncoderDoesNotBlockLevels(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pr.Close() })
	s := &ffmpegStream{
		ring:   make([]float32, 2*SpectrumBins),
		enc:    &encoder{stdin: pw, done: make(chan struct{})},
		exited: make(chan struct{}),
	}

	wrote := make(chan struct{})
	go func() {
		defer close(wrote)
		s.consume([]byte{0x00, 0x40, 0x00, 0x40})
	}()
	time.Sleep(10 * time.Millisecond)

	read := make(chan struct{})
	go func() {
		defer close(read)
		s.FrequencyData(make([]float32, SpectrumBins))
	}()
	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("FrequencyData blocked behind the encoder write")
	}

	s.mu.Lock()
	level := s.ring[0]
	s.mu.Unlock()
	if level != 0.5 {
		t.Errorf("ring[0] = %v, want 0.5", level)
	}

	pr.Close()
	<-wrote
}

func TestOpenReturnsOnFirstData(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell")
	}
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nprintf '\\000\\100\\000\\100'\nexec sleep 10\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	d := FFmpegDevices{Path: bin, Format: "pulse", MicInput: "default"}

	start := time.Now()
	stream, err := d.Microphone(context.Background())
	if err != nil {
		t.Fatalf("Microphone: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= firstDataTimeout {
		t.Errorf("open took %v, want less than %v", elapsed, firstDataTimeout)
	}
	stream.FrequencyData(make([]float32, SpectrumBins))
	stream.Release()
}

func TestSpectrumPeak(t *testing.T) {
	const bins = 64
	samples := make([]float32, 2*bins)
	for i := range samples {
		samples[i] = float32(0.04 * math.Sin(2*math.Pi*8*float64(i)/float64(len(samples))))
	}
	dst := make([]float32, bins)
	Spectrum(samples, dst)

	peak := 0
	for i, v := range dst {
		if v < 0 || v > 1 {
			t.Fatalf("bin %d = %v out of range", i, v)
		}
		if v > dst[peak] {
			peak = i
		}
	}
	if peak != 8 {
		t.Errorf("peak bin = %d, want 8", peak)
	}
}

func TestSpectrumSilence(t *testing.T) {
	dst := make([]float32, 16)
	Spectrum(make([]float32, 32), dst)
	if Level(dst) != 0 {
		t.Errorf("silence level = %v", Level(dst))
	}
}

func TestDownsample(t *testing.T) {
	got := Downsample([]float32{0, 1, 1, 1, 0.5, 0.5}, 3)
	want := []float32{0.5, 1, 0.5}
	if !slices.Equal(got, want) {
		t.Errorf("Downsample = %v, want %v", got, want)
	}
}

func TestRecordingAssemble(t *testing.T) {
	r := &recording{}
	r.add(Chunk{Data: []byte("a"), MimeType: "audio/ogg;codecs=opus"})
	r.add(Chunk{})
	r.add(Chunk{Data: []byte("b"), MimeType: "audio/ogg;codecs=opus"})

	blob, mime := r.assemble("audio/webm")
	if string(blob) != "ab" || mime != "audio/ogg;codecs=opus" {
		t.Errorf("assemble = %q %q", blob, mime)
	}
	blob, mime = r.assemble("audio/webm")
	if len(blob) != 0 || mime != "audio/webm" {
		t.Errorf("second assemble = %q %q", blob, mime)
	}
}
