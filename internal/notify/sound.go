package notify

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"time"

	"github.com/jfreymuth/pulse"

	"github.com/rbright/pulselink/internal/alert"
)

const toneSampleRate = 16000

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var (
	// sirenPCM alternates two pitches three times.
	sirenPCM = synthesizeCue([]toneSpec{
		{frequencyHz: 960, duration: 260 * time.Millisecond, volume: 0.3},
		{frequencyHz: 770, duration: 260 * time.Millisecond, volume: 0.3},
		{frequencyHz: 960, duration: 260 * time.Millisecond, volume: 0.3},
		{frequencyHz: 770, duration: 260 * time.Millisecond, volume: 0.3},
		{frequencyHz: 960, duration: 260 * time.Millisecond, volume: 0.3},
		{frequencyHz: 770, duration: 260 * time.Millisecond, volume: 0.3},
	})
	chimePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 740, duration: 90 * time.Millisecond, volume: 0.18},
		{frequencyHz: 988, duration: 140 * time.Millisecond, volume: 0.18},
	})
)

// FilePlaceholder is replaced by the sound file path in a player argv.
const FilePlaceholder = "{file}"

// DefaultPlayer plays sound files through PipeWire.
var DefaultPlayer = []string{"pw-play", FilePlaceholder}

// playSound plays option's file through player when present, else the
// synthesized tone for category.
func playSound(ctx context.Context, player []string, option *alert.SoundOption, category alert.SoundCategory) error {
	if option != nil && option.Path != "" && len(player) > 0 {
		if err := playSoundFile(ctx, player, option.Path); err == nil {
			return nil
		}
	}
	return playSynth(toneSamples(category))
}

func toneSamples(category alert.SoundCategory) []int16 {
	if category == alert.SoundSiren {
		return sirenPCM
	}
	return chimePCM
}

func playSoundFile(ctx context.Context, player []string, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat sound file %q: %w", path, err)
	}

	playCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	argv := playerArgv(player, path)
	cmd := exec.CommandContext(playCtx, argv[0], argv[1:]...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("play sound file %q: %w", path, err)
	}
	return nil
}

// playerArgv substitutes path for FilePlaceholder, or appends it when the
// player has no placeholder.
func playerArgv(player []string, path string) []string {
	argv := make([]string, 0, len(player)+1)
	substituted := false
	for _, arg := range player {
		if arg == FilePlaceholder {
			arg, substituted = path, true
		}
		argv = append(argv, arg)
	}
	if !substituted {
		argv = append(argv, path)
	}
	return argv
}

func playSynth(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("pulselink"),
		pulse.ClientApplicationIconName("dialog-warning"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if cursor >= len(samples) {
			return 0, pulse.EndOfData
		}

		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(toneSampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("pulselink alert tone"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play alert tone: %w", err)
	}
	return nil
}

func synthesizeCue(parts []toneSpec) []int16 {
	if len(parts) == 0 {
		return nil
	}
	gapSamples := samplesForDuration(22 * time.Millisecond)
	total := 0
	for i, part := range parts {
		total += samplesForDuration(part.duration)
		if i < len(parts)-1 {
			total += gapSamples
		}
	}

	pcm := make([]int16, 0, total)
	for i, part := range parts {
		pcm = append(pcm, synthesizeTone(part)...)
		if i < len(parts)-1 && gapSamples > 0 {
			pcm = append(pcm, make([]int16, gapSamples)...)
		}
	}
	return pcm
}

// synthesizeTone renders a sine wave with a short linear attack and release.
func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	ramp := min(max(n/10, 1), toneSampleRate/200)

	pcm := make([]int16, n)
	for i := range n {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			envelope = math.Min(envelope, float64(tail)/float64(ramp))
		}
		t := float64(i) / toneSampleRate
		pcm[i] = int16(math.Round(math.Sin(2*math.Pi*spec.frequencyHz*t) * spec.volume * envelope * 32767))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * toneSampleRate))
}
