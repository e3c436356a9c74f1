package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	ChannelAlerts   = "pulselink-alerts"
	ChannelCheckIns = "pulselink-checkins"

	titleAlert   = "PulseLink alert"
	titleCheckIn = "PulseLink check-in"

	notificationIDBase = 100

	defaultLocationTimeout = 5 * time.Second
	defaultSMSTimeout      = 10 * time.Second
	defaultSMSConcurrency  = 4
)

// VibrationPattern is the on/off pattern applied when a profile asks for vibration.
var VibrationPattern = []time.Duration{
	0,
	250 * time.Millisecond,
	250 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	250 * time.Millisecond,
}

// DispatcherOptions wires the dispatcher's collaborators.
// Nil collaborators degrade: no location, zero SMS successes, no notification.
type DispatcherOptions struct {
	Logger   *slog.Logger
	Location LocationProvider
	SMS      SMSSender
	Notifier Notifier
	Sounds   SoundResolver
	Metrics  Metrics

	LocationTimeout time.Duration
	SMSTimeout      time.Duration
	SMSConcurrency  int

	Now      func() time.Time
	TimeZone *time.Location
}

// Dispatcher composes one alert and fans it out over SMS and a local notification.
type Dispatcher struct {
	logger   *slog.Logger
	location LocationProvider
	sms      SMSSender
	notifier Notifier
	sounds   SoundResolver
	metrics  Metrics

	locationTimeout time.Duration
	smsTimeout      time.Duration
	smsConcurrency  int

	now      func() time.Time
	timeZone *time.Location
}

// NewDispatcher constructs a dispatcher with safe default fallbacks.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		logger:          opts.Logger,
		location:        opts.Location,
		sms:             opts.SMS,
		notifier:        opts.Notifier,
		sounds:          opts.Sounds,
		metrics:         opts.Metrics,
		locationTimeout: opts.LocationTimeout,
		smsTimeout:      opts.SMSTimeout,
		smsConcurrency:  opts.SMSConcurrency,
		now:             opts.Now,
		timeZone:        opts.TimeZone,
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	if d.notifier == nil {
		d.notifier = NotifierFunc(func(context.Context, Notification) error { return nil })
	}
	if d.metrics == nil {
		d.metrics = noopMetrics{}
	}
	if d.locationTimeout <= 0 {
		d.locationTimeout = defaultLocationTimeout
	}
	if d.smsTimeout <= 0 {
		d.smsTimeout = defaultSMSTimeout
	}
	if d.smsConcurrency <= 0 {
		d.smsConcurrency = defaultSMSConcurrency
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.timeZone == nil {
		d.timeZone = time.Local
	}
	return d
}

// Dispatch sends one alert for trigger to contacts and raises the local notification.
// SMS and location failures are tolerated; only an unknown tier, an empty contact
// list, or a cancelled context are returned as errors.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	trigger string,
	tier Tier,
	contacts []Contact,
	settings Settings,
) (Result, error) {
	if !tier.Valid() {
		return Result{}, fmt.Errorf("dispatch: %w: %q", ErrUnknownTier, tier)
	}
	if len(contacts) == 0 {
		return Result{}, fmt.Errorf("dispatch %s: %w", tier, ErrNoContacts)
	}

	locationLine := ""
	if settings.IncludeLocation {
		locationLine = d.locationLine(ctx)
	}
	message := ComposeMessage(tier, trigger, locationLine)

	smsCount := d.fanOut(ctx, tier, message, contacts)

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("dispatch %s: %w", tier, err)
	}

	notification := d.buildNotification(tier, message, settings.ProfileFor(tier), contacts[0])
	if err := d.notifier.Notify(ctx, notification); err != nil {
		d.logger.Warn("alert notification failed",
			"tier", string(tier),
			"channel", notification.Channel,
			"error", err.Error(),
		)
	}

	return Result{
		Message:          message,
		SMSSuccessCount:  smsCount,
		LocationIncluded: locationLine != "",
	}, nil
}

// locationLine returns "" when no fix is available within the timeout.
func (d *Dispatcher) locationLine(ctx context.Context) string {
	if d.location == nil {
		return ""
	}

	locCtx, cancel := context.WithTimeout(ctx, d.locationTimeout)
	defer cancel()

	pos, err := d.location.LastKnown(locCtx)
	if err != nil {
		d.logger.Debug("location unavailable; omitting from alert", "error", err.Error())
		return ""
	}
	if pos.FixedAt.IsZero() {
		pos.FixedAt = d.now()
	}
	return LocationLine(pos, d.timeZone)
}

// fanOut sends message to every contact independently and returns the success count.
func (d *Dispatcher) fanOut(ctx context.Context, tier Tier, message string, contacts []Contact) int {
	if d.sms == nil {
		d.logger.Warn("sms channel unavailable; skipping fan-out", "tier", string(tier))
		return 0
	}

	var delivered atomic.Int32
	var group errgroup.Group
	group.SetLimit(d.smsConcurrency)

	for _, contact := range contacts {
		group.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.smsTimeout)
			defer cancel()

			if err := d.sms.SendText(sendCtx, contact.PhoneNumber, message); err != nil {
				d.metrics.SMSAttempted(ctx, tier, false)
				d.logger.Warn("sms send failed",
					"tier", string(tier),
					"contact_id", contact.ID,
					"error", err.Error(),
				)
				return nil
			}
			d.metrics.SMSAttempted(ctx, tier, true)
			delivered.Add(1)
			return nil
		})
	}
	_ = group.Wait()

	return int(delivered.Load())
}

// NotificationID is the stable per-tier notification identifier.
func NotificationID(tier Tier) uint32 {
	if tier == TierEmergency {
		return notificationIDBase
	}
	return notificationIDBase + 1
}

func (d *Dispatcher) buildNotification(tier Tier, message string, profile Profile, primary Contact) Notification {
	n := Notification{
		Channel:  ChannelCheckIns,
		Title:    titleCheckIn,
		Body:     message,
		Priority: PriorityMax,
		Alarm:    profile.BreakThroughDND,
		Category: tier.DefaultSoundCategory(),
	}
	n.ID = NotificationID(tier)
	if tier == TierEmergency {
		n.Channel = ChannelAlerts
		n.Title = titleAlert
	}

	if profile.Vibrate {
		n.Vibration = append([]time.Duration(nil), VibrationPattern...)
	}

	if d.sounds != nil {
		if option, ok := d.sounds.Resolve(profile.SoundKey, n.Category); ok {
			n.Sound = &option
		}
	}

	if primary.PhoneNumber != "" {
		n.Action = &Action{
			Key:   "tel:" + primary.PhoneNumber,
			Label: "Call " + primary.DisplayName,
		}
	}
	return n
}
