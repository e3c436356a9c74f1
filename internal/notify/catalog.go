package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rbright/pulselink/internal/alert"
)

const (
	sirenPrefix = "alert_siren"
	chimePrefix = "alert_chime"

	defaultSirenLabel = "Standard Siren"
	defaultChimeLabel = "Gentle Chime"
)

// Catalog is the set of sound files discovered in one directory.
// It implements alert.SoundResolver.
type Catalog struct {
	options []alert.SoundOption
	byKey   map[string]alert.SoundOption
}

// LoadCatalog scans dir for alert_siren* and alert_chime* files.
// An empty dir yields an empty catalog.
func LoadCatalog(dir string) (*Catalog, error) {
	dir = expandUserPath(dir)
	if dir == "" {
		return newCatalog(nil), nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sound dir %q: %w", dir, err)
	}

	options := make([]alert.SoundOption, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if option, ok := optionFromFile(dir, entry.Name()); ok {
			options = append(options, option)
		}
	}
	return newCatalog(options), nil
}

func newCatalog(options []alert.SoundOption) *Catalog {
	sort.SliceStable(options, func(i, j int) bool {
		return strings.ToLower(options[i].Label) < strings.ToLower(options[j].Label)
	})
	byKey := make(map[string]alert.SoundOption, len(options))
	for _, option := range options {
		byKey[option.Key] = option
	}
	return &Catalog{options: options, byKey: byKey}
}

func optionFromFile(dir string, name string) (alert.SoundOption, bool) {
	key := strings.TrimSuffix(name, filepath.Ext(name))
	option := alert.SoundOption{Key: key, Path: filepath.Join(dir, name)}

	switch {
	case strings.HasPrefix(key, sirenPrefix):
		option.Category = alert.SoundSiren
		option.Label = soundLabel(strings.TrimPrefix(key, sirenPrefix), defaultSirenLabel)
	case strings.HasPrefix(key, chimePrefix):
		option.Category = alert.SoundChime
		option.Label = soundLabel(strings.TrimPrefix(key, chimePrefix), defaultChimeLabel)
	default:
		return alert.SoundOption{}, false
	}
	return option, true
}

// soundLabel title-cases the underscore or dash separated suffix.
func soundLabel(raw string, fallback string) string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '_' || r == '-' })
	if len(parts) == 0 {
		return fallback
	}
	for i, part := range parts {
		first, size := utf8.DecodeRuneInString(part)
		parts[i] = string(unicode.ToTitle(first)) + part[size:]
	}
	return strings.Join(parts, " ")
}

// EmergencyOptions lists siren sounds.
func (c *Catalog) EmergencyOptions() []alert.SoundOption {
	return c.filter(alert.SoundSiren)
}

// CheckInOptions lists chime sounds, or the sirens when no chime exists.
func (c *Catalog) CheckInOptions() []alert.SoundOption {
	if chimes := c.filter(alert.SoundChime); len(chimes) > 0 {
		return chimes
	}
	return c.EmergencyOptions()
}

// All lists every discovered sound ordered by label.
func (c *Catalog) All() []alert.SoundOption {
	return append([]alert.SoundOption(nil), c.options...)
}

// Resolve returns the exact key when known, else the first option of the fallback category.
func (c *Catalog) Resolve(key string, fallback alert.SoundCategory) (alert.SoundOption, bool) {
	if option, ok := c.byKey[strings.TrimSpace(key)]; ok {
		return option, true
	}

	var candidates []alert.SoundOption
	if fallback == alert.SoundSiren {
		candidates = c.EmergencyOptions()
	} else {
		candidates = c.CheckInOptions()
	}
	if len(candidates) == 0 {
		return alert.SoundOption{}, false
	}
	return candidates[0], true
}

func (c *Catalog) filter(category alert.SoundCategory) []alert.SoundOption {
	out := make([]alert.SoundOption, 0, len(c.options))
	for _, option := range c.options {
		if option.Category == category {
			out = append(out, option)
		}
	}
	return out
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(raw, "~"), "/"))
}
