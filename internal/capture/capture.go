// Package capture implements the capture agent: it owns the audio device,
// records fixed-length segments, hands the finished recording off for
// transcription, and asks for debounced summaries as the transcript grows.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jwulff/clinote/internal/fault"
)

const (
	// SegmentDuration is the length of one buffered recording segment.
	SegmentDuration = 5 * time.Second
	// SummaryDelay is the quiet period before a summary is requested.
	SummaryDelay = 2 * time.Second
	// VisualizationInterval is the sampling cadence of the level meter.
	VisualizationInterval = 100 * time.Millisecond
	// SpectrumBins is the number of frequency bins sampled per tick.
	SpectrumBins = 128
)

// State is the recording state of the agent.
type State string

const (
	Idle       State = "idle"
	Requesting State = "requesting"
	Recording  State = "recording"
	Finalizing State = "finalizing"
)

// Source identifies where the live stream came from.
type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceDisplay    Source = "display"
)

var (
	ErrPermissionDenied = errors.New("audio capture permission denied")
	ErrNoDevice         = errors.New("no audio capture device found")
	ErrUnsupported      = errors.New("audio capture is not supported on this host")
)

// BestEncoding is always chosen when the host supports it.
const BestEncoding = "audio/webm"

// Encodings is the ordered list of encodings probed on the host.
var Encodings = []string{
	"audio/webm",
	"audio/webm;codecs=opus",
	"audio/webm;codecs=vorbis",
	"audio/mp4",
	"audio/mp4;codecs=mp4a.40.2",
	"audio/ogg;codecs=opus",
	"audio/wav",
}

// SelectEncoding returns BestEncoding when supported, otherwise the first
// supported entry of Encodings, otherwise "" for the host default. The
// result depends only on which encodings are supported.
func SelectEncoding(supports func(mimeType string) bool) string {
	if supports(BestEncoding) {
		return BestEncoding
	}
	for _, e := range Encodings {
		if supports(e) {
			return e
		}
	}
	return ""
}

// Chunk is one recorded segment.
type Chunk struct {
	Data     []byte
	MimeType string
}

// Devices grants access to audio sources.
type Devices interface {
	Microphone(ctx context.Context) (Stream, error)
	DisplayAudio(ctx context.Context) (Stream, error)
	Supports(mimeType string) bool
}

// Stream is a live audio source. Only one may be held at a time.
type Stream interface {
	// Record starts encoding the stream, delivering one Chunk per segment.
	Record(mimeType string, segment time.Duration, sink func(Chunk)) error
	// StopRecording flushes the final partial segment. The sink is not
	// called after it returns.
	StopRecording() error
	// FrequencyData fills dst with normalized magnitudes, low to high.
	FrequencyData(dst []float32)
	// Release frees the device.
	Release()
}

// classifyAcquire maps a device error to its fault kind.
func classifyAcquire(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return fault.Wrap(fault.Permission, "capture", err)
	case errors.Is(err, ErrNoDevice):
		return fault.Wrap(fault.Availability, "capture", err)
	case errors.Is(err, ErrUnsupported):
		return fault.Wrap(fault.Configuration, "capture", err)
	default:
		return fault.Wrap(fault.Availability, "capture", err)
	}
}

// acquire prefers the microphone and falls back to display audio when the
// microphone is denied or absent.
func acquire(ctx context.Context, d Devices) (Stream, Source, error) {
	s, err := d.Microphone(ctx)
	if err == nil {
		return s, SourceMicrophone, nil
	}
	if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrNoDevice) {
		return nil, "", classifyAcquire(err)
	}
	ds, derr := d.DisplayAudio(ctx)
	if derr == nil {
		return ds, SourceDisplay, nil
	}
	return nil, "", classifyAcquire(fmt.Errorf("%w (display audio: %v)", err, derr))
}

// recording collects the chunks of one recording.
type recording struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (r *recording) add(c Chunk) {
	if len(c.Data) == 0 {
		return
	}
	r.mu.Lock()
	r.chunks = append(r.chunks, c)
	r.mu.Unlock()
}

// assemble concatenates the chunks in order under the first chunk's
// encoding, then clears them.
func (r *recording) assemble(fallback string) ([]byte, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mime := fallback
	if len(r.chunks) > 0 && r.chunks[0].MimeType != "" {
		mime = r.chunks[0].MimeType
	}
	size := 0
	for _, c := range r.chunks {
		size += len(c.Data)
	}
	blob := make([]byte, 0, size)
	for _, c := range r.chunks {
		blob = append(blob, c.Data...)
	}
	r.chunks = nil
	return blob, mime
}
