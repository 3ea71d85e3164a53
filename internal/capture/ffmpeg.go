package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jwulff/clinote/internal/observability"
)

const (
	sampleRate       = 16000
	firstDataTimeout = 3 * time.Second
	encoderDrain     = 5 * time.Second
)

type encoding struct {
	codec  string
	format string
	extra  []string
}

var encodings = map[string]encoding{
	"audio/webm":                 {codec: "libopus", format: "webm"},
	"audio/webm;codecs=opus":     {codec: "libopus", format: "webm"},
	"audio/webm;codecs=vorbis":   {codec: "libvorbis", format: "webm"},
	"audio/ogg;codecs=opus":      {codec: "libopus", format: "ogg"},
	"audio/wav":                  {codec: "pcm_s16le", format: "wav"},
	"audio/mp4":                  {codec: "aac", format: "mp4", extra: []string{"-movflags", "frag_keyframe+empty_moov"}},
	"audio/mp4;codecs=mp4a.40.2": {codec: "aac", format: "mp4", extra: []string{"-movflags", "frag_keyframe+empty_moov"}},
}

// hostDefault is used when no listed encoding is supported.
const hostDefault = "audio/wav"

// FFmpegDevices captures audio through an ffmpeg child process. Format and
// the inputs are ffmpeg's -f and -i arguments, e.g. "pulse" and "default".
// An empty DisplayInput means the host has no display audio source.
type FFmpegDevices struct {
	Path         string
	Format       string
	MicInput     string
	DisplayInput string
}

func (d FFmpegDevices) Microphone(ctx context.Context) (Stream, error) {
	return d.open(ctx, d.MicInput)
}

func (d FFmpegDevices) DisplayAudio(ctx context.Context) (Stream, error) {
	if d.DisplayInput == "" {
		return nil, ErrNoDevice
	}
	return d.open(ctx, d.DisplayInput)
}

func (d FFmpegDevices) Supports(mimeType string) bool {
	_, ok := encodings[mimeType]
	return ok
}

func (d FFmpegDevices) bin() (string, error) {
	path := d.Path
	if path == "" {
		path = "ffmpeg"
	}
	bin, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return bin, nil
}

func captureArgs(format, input string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-i", input,
		"-ac", "1", "-ar", fmt.Sprint(sampleRate),
		"-f", "s16le", "pipe:1",
	}
}

func encoderArgs(mimeType string) ([]string, error) {
	if mimeType == "" {
		mimeType = hostDefault
	}
	enc, ok := encodings[mimeType]
	if !ok {
		return nil, fmt.Errorf("%w: encoding %q", ErrUnsupported, mimeType)
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", fmt.Sprint(sampleRate), "-ac", "1", "-i", "pipe:0",
		"-c:a", enc.codec,
	}
	args = append(args, enc.extra...)
	return append(args, "-f", enc.format, "pipe:1"), nil
}

// classifyStderr turns ffmpeg's complaint about an input into a device error.
func classifyStderr(msg string) error {
	msg = strings.TrimSpace(msg)
	l := strings.ToLower(msg)
	base := ErrNoDevice
	if strings.Contains(l, "permission denied") || strings.Contains(l, "not authorized") ||
		strings.Contains(l, "operation not permitted") {
		base = ErrPermissionDenied
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}

func (d FFmpegDevices) open(ctx context.Context, input string) (Stream, error) {
	bin, err := d.bin()
	if err != nil {
		return nil, err
	}
	if input == "" {
		return nil, ErrNoDevice
	}

	cmd := exec.Command(bin, captureArgs(d.Format, input)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	s := &ffmpegStream{bin: bin, cmd: cmd, ring: make([]float32, 2*SpectrumBins), exited: make(chan struct{})}
	first := make(chan error, 1)
	go s.readPCM(stdout, first)

	timer := time.NewTimer(firstDataTimeout)
	defer timer.Stop()
	select {
	case err := <-first:
		if err == nil {
			return s, nil
		}
	case <-timer.C:
	case <-ctx.Done():
		s.Release()
		return nil, ctx.Err()
	}
	s.Release()
	return nil, classifyStderr(stderr.String())
}

type ffmpegStream struct {
	bin    string
	cmd    *exec.Cmd
	exited chan struct{}

	mu   sync.Mutex
	ring []float32
	pos  int
	enc  *encoder

	releaseOnce sync.Once
}

// readPCM feeds the level ring and the active encoder until the capture
// process exits. first receives nil on the first bytes, or an error if the
// process ends before producing any.
func (s *ffmpegStream) readPCM(r io.Reader, first chan<- error) {
	defer close(s.exited)
	buf := make([]byte, 4096)
	var carry []byte
	started := false
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if !started {
				started = true
				first <- nil
			}
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			s.consume(data[:even])
			carry = append([]byte(nil), data[even:]...)
		}
		if err != nil {
			if !started {
				first <- err
			}
			return
		}
	}
}

// consume updates the level ring and forwards pcm to the encoder. The
// encoder write happens outside s.mu.
func (s *ffmpegStream) consume(pcm []byte) {
	s.mu.Lock()
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(pcm[i:]))
		s.ring[s.pos] = float32(v) / 32768
		s.pos = (s.pos + 1) % len(s.ring)
	}
	e := s.enc
	s.mu.Unlock()

	if e == nil {
		return
	}
	if _, err := e.stdin.Write(pcm); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		observability.WithFields("component", "ffmpeg").Warn("encoder write", "error", err)
	}
}

func (s *ffmpegStream) Record(mimeType string, segment time.Duration, sink func(Chunk)) error {
	args, err := encoderArgs(mimeType)
	if err != nil {
		return err
	}
	if mimeType == "" {
		mimeType = hostDefault
	}

	cmd := exec.Command(s.bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}

	e := &encoder{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	go e.drain(stdout, segment, mimeType, sink)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc != nil {
		stdin.Close()
		cmd.Process.Kill()
		return errors.New("already recording")
	}
	s.enc = e
	return nil
}

func (s *ffmpegStream) StopRecording() error {
	s.mu.Lock()
	e := s.enc
	s.enc = nil
	s.mu.Unlock()
	if e == nil {
		return nil
	}
	return e.stop()
}

func (s *ffmpegStream) FrequencyData(dst []float32) {
	s.mu.Lock()
	samples := make([]float32, len(s.ring))
	n := copy(samples, s.ring[s.pos:])
	copy(samples[n:], s.ring[:s.pos])
	s.mu.Unlock()
	Spectrum(samples, dst)
}

func (s *ffmpegStream) Release() {
	s.releaseOnce.Do(func() {
		if err := s.StopRecording(); err != nil {
			observability.WithFields("component", "ffmpeg").Warn("stop encoder", "error", err)
		}
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		<-s.exited
		s.cmd.Wait()
	})
}

type encoder struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
}

// drain collects encoder output and hands it to sink once per segment, then
// once more with whatever remains at end of stream.
func (e *encoder) drain(r io.Reader, segment time.Duration, mimeType string, sink func(Chunk)) {
	defer close(e.done)

	var (
		mu      sync.Mutex
		pending []byte
	)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				mu.Lock()
				pending = append(pending, buf[:n]...)
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	flush := func() {
		mu.Lock()
		data := pending
		pending = nil
		mu.Unlock()
		if len(data) > 0 {
			sink(Chunk{Data: data, MimeType: mimeType})
		}
	}

	t := time.NewTicker(segment)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			flush()
		case <-readDone:
			flush()
			return
		}
	}
}

// stop closes the encoder's input and waits for the final segment.
func (e *encoder) stop() error {
	e.stdin.Close()
	timer := time.NewTimer(encoderDrain)
	defer timer.Stop()
	select {
	case <-e.done:
	case <-timer.C:
		e.cmd.Process.Kill()
		<-e.done
	}
	return e.cmd.Wait()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
