package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	// SampleRate is the capture rate expected by the recognizer.
	SampleRate = 16000
	// FrameBytes is one 20 ms frame of mono s16 audio at SampleRate.
	FrameBytes = SampleRate / 50 * 2

	frameBuffer = 128
)

// framer cuts the Pulse byte stream into FrameBytes frames.
type framer struct {
	pending []byte
}

func (f *framer) push(b []byte) [][]byte {
	f.pending = append(f.pending, b...)
	frames := make([][]byte, 0, len(f.pending)/FrameBytes)
	for len(f.pending) >= FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, f.pending)
		f.pending = f.pending[FrameBytes:]
		frames = append(frames, frame)
	}
	return frames
}

// flush returns the partial frame left over, if any.
func (f *framer) flush() []byte {
	if len(f.pending) == 0 {
		return nil
	}
	rest := append([]byte(nil), f.pending...)
	f.pending = nil
	return rest
}

// Capture records one source for the length of a recognition session. PCM is
// never retained: frames the consumer cannot keep up with are dropped and counted.
type Capture struct {
	device Device

	client *pulse.Client
	stream *pulse.RecordStream

	frames chan []byte
	done   chan struct{}

	mu      sync.Mutex
	framer  framer
	stopped bool
	writes  sync.WaitGroup

	dropped atomic.Int64
}

func newCapture(device Device) *Capture {
	return &Capture{
		device: device,
		frames: make(chan []byte, frameBuffer),
		done:   make(chan struct{}),
	}
}

// StartCapture opens a record stream on device. The capture stops on its own
// when ctx is cancelled.
func StartCapture(ctx context.Context, device Device) (*Capture, error) {
	client, err := connect()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	capture := newCapture(device)
	capture.client = client

	stream, err := client.NewRecord(
		pulse.NewWriter(writerFunc(capture.accept), pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(FrameBytes),
		pulse.RecordMediaName("pulselink listening"),
	)
	if err != nil {
		_ = capture.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	capture.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = capture.Stop()
		case <-capture.done:
		}
	}()
	return capture, nil
}

func (c *Capture) Device() Device {
	return c.device
}

// Chunks delivers FrameBytes frames and is closed by Stop.
func (c *Capture) Chunks() <-chan []byte {
	return c.frames
}

func (c *Capture) DroppedChunks() int64 {
	return c.dropped.Load()
}

// Stop ends the stream, delivers any trailing partial frame when there is room,
// and closes Chunks. It is safe to call more than once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.done)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
	c.writes.Wait()

	c.mu.Lock()
	rest := c.framer.flush()
	c.mu.Unlock()
	if rest != nil {
		select {
		case c.frames <- rest:
		default:
			c.dropped.Add(1)
		}
	}

	close(c.frames)
	return nil
}

// accept is the Pulse write callback.
func (c *Capture) accept(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under mu so Stop's Wait cannot race a late writer.
	c.writes.Add(1)
	frames := c.framer.push(buf)
	c.mu.Unlock()
	defer c.writes.Done()

	for _, frame := range frames {
		select {
		case <-c.done:
			return 0, io.EOF
		case c.frames <- frame:
		default:
			c.dropped.Add(1)
		}
	}
	return len(buf), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
