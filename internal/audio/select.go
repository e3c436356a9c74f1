package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Selection is the source to capture from and, when the configured input could
// not be used, the reason it was replaced.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// SelectDevice resolves audio.input and audio.fallback against the live source list.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return choose(devices, input, fallback)
}

// preference is a normalized device search term; empty selects the server default.
type preference string

func newPreference(raw string) preference {
	term := strings.ToLower(strings.TrimSpace(raw))
	if term == "default" {
		return ""
	}
	return preference(term)
}

func (p preference) resolve(devices []Device) (Device, error) {
	if p == "" {
		for _, device := range devices {
			if device.Default {
				return device, nil
			}
		}
		return Device{}, errors.New("default audio source is unavailable")
	}
	for _, device := range devices {
		if device.matches(string(p)) {
			return device, nil
		}
	}
	return Device{}, fmt.Errorf("%q did not match any device", string(p))
}

func choose(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, ErrNoDevices
	}

	primary, err := newPreference(input).resolve(devices)
	if err != nil {
		return Selection{}, fmt.Errorf("audio.input %w", err)
	}
	if primary.usable() {
		return Selection{Device: primary}, nil
	}

	backup, err := newPreference(fallback).resolve(devices)
	if err != nil {
		return Selection{}, fmt.Errorf("input %q is %s and audio.fallback %w", primary.ID, primary.condition(), err)
	}
	if !backup.usable() {
		return Selection{}, fmt.Errorf("input %q is %s and fallback %q is %s",
			primary.ID, primary.condition(), backup.ID, backup.condition())
	}

	return Selection{
		Device:   backup,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, primary.condition(), backup.ID),
		Fallback: backup.ID != primary.ID,
	}, nil
}
