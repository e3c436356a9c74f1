// Package alert matches trigger phrases to escalation tiers and dispatches alerts.
package alert

import (
	"fmt"
	"strings"
	"time"
)

// Tier classifies an alert's urgency.
type Tier string

const (
	TierEmergency Tier = "EMERGENCY"
	TierCheckIn   Tier = "CHECK_IN"
)

// ParseTier accepts the stored form and the CLI spellings ("emergency", "check-in").
func ParseTier(raw string) (Tier, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch Tier(normalized) {
	case TierEmergency:
		return TierEmergency, nil
	case TierCheckIn, "CHECKIN":
		return TierCheckIn, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
	}
}

// Valid reports whether t is one of the two known tiers.
func (t Tier) Valid() bool {
	return t == TierEmergency || t == TierCheckIn
}

// SoundCategory is the fallback family used when a profile has no resolvable sound.
type SoundCategory string

const (
	SoundSiren SoundCategory = "SIREN"
	SoundChime SoundCategory = "CHIME"
)

// DefaultSoundCategory returns the sound family for a tier.
func (t Tier) DefaultSoundCategory() SoundCategory {
	if t == TierEmergency {
		return SoundSiren
	}
	return SoundChime
}

// Contact is a trusted recipient snapshot read from the contact store.
type Contact struct {
	ID              int64
	DisplayName     string
	PhoneNumber     string
	Tier            Tier
	IncludeLocation bool
	AutoCall        bool
}

// Profile holds per-tier notification behavior.
type Profile struct {
	SoundKey        string `json:"sound,omitempty"`
	BreakThroughDND bool   `json:"break_through_dnd"`
	Vibrate         bool   `json:"vibrate"`
}

// Settings is one consistent snapshot of user settings.
type Settings struct {
	PrimaryPhrase      string
	SecondaryPhrase    string
	ListeningEnabled   bool
	IncludeLocation    bool
	EmergencyProfile   Profile
	CheckInProfile     Profile
	AutoCallAfterAlert bool
}

// DefaultSettings mirrors the out-of-the-box configuration.
func DefaultSettings() Settings {
	return Settings{
		PrimaryPhrase:    "help me pulselink",
		SecondaryPhrase:  "check in pulselink",
		ListeningEnabled: true,
		IncludeLocation:  true,
		EmergencyProfile: Profile{BreakThroughDND: true, Vibrate: true},
		CheckInProfile:   Profile{BreakThroughDND: false, Vibrate: true},
	}
}

// ProfileFor returns the notification profile for tier.
func (s Settings) ProfileFor(tier Tier) Profile {
	if tier == TierEmergency {
		return s.EmergencyProfile
	}
	return s.CheckInProfile
}

// TriggerPhrase binds one normalized phrase to the tier it escalates to.
type TriggerPhrase struct {
	Phrase string
	Tier   Tier
}

// TriggerPhrases returns the normalized, non-blank phrases in match order.
// Blank phrases are dropped before tiers are assigned: the first remaining
// phrase is EMERGENCY and any second one is CHECK_IN.
func (s Settings) TriggerPhrases() []TriggerPhrase {
	var out []TriggerPhrase
	for _, raw := range []string{s.PrimaryPhrase, s.SecondaryPhrase} {
		phrase := normalize(raw)
		if phrase == "" {
			continue
		}
		tier := TierCheckIn
		if len(out) == 0 {
			tier = TierEmergency
		}
		out = append(out, TriggerPhrase{Phrase: phrase, Tier: tier})
	}
	return out
}

// Event is an immutable audit record of one completed dispatch or acknowledgement.
type Event struct {
	ID             int64
	Timestamp      time.Time
	TriggeredBy    string
	Tier           Tier
	ContactCount   int
	SentSMS        bool
	SharedLocation bool
}

// Result is what the dispatcher reports back to the router for one dispatch.
type Result struct {
	Message          string
	SMSSuccessCount  int
	LocationIncluded bool
}

// SoundOption is one playable sound known to the sound resolver.
type SoundOption struct {
	Key      string
	Label    string
	Path     string
	Category SoundCategory
}

// Position is a last-known geographic fix.
type Position struct {
	Latitude  float64
	Longitude float64
	FixedAt   time.Time
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
