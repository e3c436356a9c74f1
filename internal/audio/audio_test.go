package audio

import (
	"context"
	"io"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

var (
	headset = Device{ID: "alsa_input.usb-jabra", Description: "Jabra Evolve2", Available: true, Default: true}
	webcam  = Device{ID: "alsa_input.usb-c920", Description: "HD Pro Webcam C920", Available: true}
)

func TestChoose(t *testing.T) {
	mutedHeadset := headset
	mutedHeadset.Muted = true
	unpluggedWebcam := webcam
	unpluggedWebcam.Available = false

	tests := []struct {
		name      string
		devices   []Device
		input     string
		fallback  string
		wantID    string
		wantWarn  string
		wantFall  bool
		wantError string
	}{
		{name: "default input", devices: []Device{headset, webcam}, input: "default", fallback: "default", wantID: headset.ID},
		{name: "empty input means default", devices: []Device{webcam, headset}, wantID: headset.ID},
		{name: "match by description", devices: []Device{headset, webcam}, input: " C920 ", wantID: webcam.ID},
		{name: "muted input uses fallback", devices: []Device{mutedHeadset, webcam}, input: "jabra", fallback: "webcam", wantID: webcam.ID, wantWarn: "muted", wantFall: true},
		{name: "unavailable input uses default", devices: []Device{headset, unpluggedWebcam}, input: "c920", wantID: headset.ID, wantWarn: "unavailable", wantFall: true},
		{name: "no devices", wantError: ErrNoDevices.Error()},
		{name: "unknown input", devices: []Device{headset}, input: "missing", wantError: "did not match"},
		{name: "fallback also muted", devices: []Device{mutedHeadset}, wantError: "muted"},
		{name: "fallback missing", devices: []Device{mutedHeadset}, fallback: "missing", wantError: "audio.fallback"},
		{name: "no default source", devices: []Device{webcam}, wantError: "default audio source is unavailable"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			selection, err := choose(tc.devices, tc.input, tc.fallback)
			if tc.wantError != "" {
				require.ErrorContains(t, err, tc.wantError)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantID, selection.Device.ID)
			require.Equal(t, tc.wantFall, selection.Fallback)
			if tc.wantWarn == "" {
				require.Empty(t, selection.Warning)
			} else {
				require.Contains(t, selection.Warning, tc.wantWarn)
			}
		})
	}
}

func TestPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	_, err := ListDevices(context.Background())
	require.ErrorContains(t, err, "connect pulse server")

	_, err = SelectDevice(context.Background(), "default", "default")
	require.Error(t, err)
}

func TestDevicesFromReplies(t *testing.T) {
	muted := &pulseproto.GetSourceInfoReply{SourceName: "mic", Device: "Mic", State: 1, Mute: true}
	monitor := &pulseproto.GetSourceInfoReply{SourceName: "monitor", Device: "Monitor", State: 2}

	devices := devicesFromReplies(pulseproto.GetSourceInfoListReply{muted, nil, monitor}, "monitor")
	require.Equal(t, []Device{
		{ID: "mic", Description: "Mic", State: "idle", Available: true, Muted: true},
		{ID: "monitor", Description: "Monitor", State: "suspended", Available: true, Default: true},
	}, devices)
}

func TestSourceState(t *testing.T) {
	require.Equal(t, "running", sourceState(0))
	require.Equal(t, "unknown(7)", sourceState(7))
}

func TestPortAvailable(t *testing.T) {
	require.False(t, portAvailable(nil))
	require.True(t, portAvailable(&pulseproto.GetSourceInfoReply{}))

	for available, want := range map[uint32]bool{0: true, 1: false, 2: true} {
		reply := &pulseproto.GetSourceInfoReply{ActivePortName: "analog-input-mic"}
		setPorts(t, reply, map[string]uint32{"analog-input-mic": available, "analog-input-linein": 1})
		require.Equal(t, want, portAvailable(reply), "available=%d", available)
	}
}

func TestFramer(t *testing.T) {
	var f framer
	require.Empty(t, f.push(make([]byte, FrameBytes-1)))

	frames := f.push(make([]byte, FrameBytes+2))
	require.Len(t, frames, 2)
	for _, frame := range frames {
		require.Len(t, frame, FrameBytes)
	}
	require.Len(t, f.flush(), 1)
	require.Nil(t, f.flush())
}

func TestCaptureDeliversFramesAndFlushesOnStop(t *testing.T) {
	capture := newCapture(headset)

	input := make([]byte, FrameBytes+111)
	for i := range input {
		input[i] = byte(i % 251)
	}
	n, err := capture.accept(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)

	first := <-capture.Chunks()
	require.Equal(t, input[:FrameBytes], first)

	require.NoError(t, capture.Stop())
	require.NoError(t, capture.Stop())

	rest, ok := <-capture.Chunks()
	require.True(t, ok)
	require.Equal(t, input[FrameBytes:], rest)

	_, ok = <-capture.Chunks()
	require.False(t, ok)
	require.Equal(t, headset, capture.Device())
}

func TestCaptureDropsWhenConsumerFallsBehind(t *testing.T) {
	capture := newCapture(headset)
	capture.frames = make(chan []byte, 1)

	n, err := capture.accept(make([]byte, FrameBytes*3))
	require.NoError(t, err)
	require.Equal(t, FrameBytes*3, n)
	require.Equal(t, int64(2), capture.DroppedChunks())
}

func TestCaptureRejectsWritesAfterStop(t *testing.T) {
	capture := newCapture(headset)
	require.NoError(t, capture.Stop())

	n, err := capture.accept([]byte{1, 2, 3})
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)

	n, err = capture.accept(nil)
	require.Zero(t, n)
	require.NoError(t, err)
}

// setPorts fills the unexported-type Ports slice of a source reply.
func setPorts(t *testing.T, reply *pulseproto.GetSourceInfoReply, ports map[string]uint32) {
	t.Helper()

	slice := reflect.MakeSlice(reflect.TypeOf(reply.Ports), 0, len(ports))
	elem := reflect.TypeOf(reply.Ports).Elem()
	for name, available := range ports {
		port := reflect.New(elem).Elem()
		port.FieldByName("Name").SetString(name)
		port.FieldByName("Available").SetUint(uint64(available))
		slice = reflect.Append(slice, port)
	}
	reflect.ValueOf(reply).Elem().FieldByName("Ports").Set(slice)
}
