package alert

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	disclaimerLine = "This message was sent automatically via PulseLink."
	locationLayout = "Jan 2, 15:04"
	mapsURLPrefix  = "https://maps.google.com/?q="
)

// Header returns the tier-labeled first line of an outgoing alert.
func Header(tier Tier) string {
	if tier == TierEmergency {
		return "PulseLink EMERGENCY: I need help right now."
	}
	return "PulseLink CHECK-IN: I'm requesting a quick check-in."
}

// LocationLine renders a last-known position as a timestamped map link.
func LocationLine(pos Position, loc *time.Location) string {
	fixedAt := pos.FixedAt
	if loc != nil {
		fixedAt = fixedAt.In(loc)
	}
	return fmt.Sprintf(
		"Last known location @ %s: %s%s,%s",
		fixedAt.Format(locationLayout),
		mapsURLPrefix,
		strconv.FormatFloat(pos.Latitude, 'f', -1, 64),
		strconv.FormatFloat(pos.Longitude, 'f', -1, 64),
	)
}

// ComposeMessage builds the outgoing alert text.
// Lines are, in order: header, quoted trigger, optional location, disclaimer.
func ComposeMessage(tier Tier, trigger string, locationLine string) string {
	lines := make([]string, 0, 4)
	lines = append(lines, Header(tier))
	lines = append(lines, `Phrase triggered: "`+trigger+`".`)
	if strings.TrimSpace(locationLine) != "" {
		lines = append(lines, locationLine)
	}
	lines = append(lines, disclaimerLine)
	return strings.Join(lines, "\n")
}
