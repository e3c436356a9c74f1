package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// AckMarker is the case-insensitive text an inbound reply must contain to count as an acknowledgement.
const AckMarker = "ack pulselink"

const inboundAckTrigger = "Inbound acknowledgement"

// Dispatch outcomes reported to Metrics.
const (
	OutcomeSent       = "sent"
	OutcomeNoContacts = "no_contacts"
	OutcomeFailed     = "failed"
)

// Sender performs one dispatch. *Dispatcher implements it.
type Sender interface {
	Dispatch(ctx context.Context, trigger string, tier Tier, contacts []Contact, settings Settings) (Result, error)
}

// RouterOptions wires the router's collaborators.
type RouterOptions struct {
	Logger   *slog.Logger
	Settings SettingsProvider
	Contacts ContactStore
	Audit    AuditStore
	Sender   Sender
	Metrics  Metrics
	Now      func() time.Time
}

// Router serializes every dispatch-causing call through one critical section.
type Router struct {
	logger   *slog.Logger
	settings SettingsProvider
	contacts ContactStore
	audit    AuditStore
	sender   Sender
	metrics  Metrics
	now      func() time.Time

	// sem holds one unit; waiters suspend and honor ctx cancellation.
	sem *semaphore.Weighted
}

// NewRouter constructs a router. Settings, Contacts, Audit and Sender are required.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Settings == nil || opts.Contacts == nil || opts.Audit == nil || opts.Sender == nil {
		return nil, fmt.Errorf("new router: settings, contacts, audit and sender are required")
	}
	r := &Router{
		logger:   opts.Logger,
		settings: opts.Settings,
		contacts: opts.Contacts,
		audit:    opts.Audit,
		sender:   opts.Sender,
		metrics:  opts.Metrics,
		now:      opts.Now,
		sem:      semaphore.NewWeighted(1),
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// OnPhraseDetected matches text against the configured trigger phrases and
// dispatches for the first match. It returns (nil, nil) when nothing matched
// or the matched tier has no contacts.
func (r *Router) OnPhraseDetected(ctx context.Context, text string) (*Event, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("phrase detected: %w", err)
	}
	defer r.sem.Release(1)

	settings, err := r.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("phrase detected: read settings: %w", err)
	}

	normalized := normalize(text)
	tier, ok := MatchTier(settings, normalized)
	if !ok {
		return nil, nil
	}
	return r.route(ctx, tier, normalized, settings)
}

// DispatchManual routes trigger directly to tier, bypassing phrase matching.
func (r *Router) DispatchManual(ctx context.Context, tier Tier, trigger string) (*Event, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("manual dispatch: %w: %q", ErrUnknownTier, tier)
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("manual dispatch: %w", err)
	}
	defer r.sem.Release(1)

	settings, err := r.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("manual dispatch: read settings: %w", err)
	}
	return r.route(ctx, tier, trigger, settings)
}

// OnInboundMessage records a CHECK_IN acknowledgement when body carries AckMarker.
// It never dispatches and does not take the dispatch lock.
func (r *Router) OnInboundMessage(ctx context.Context, body string) (*Event, error) {
	if !strings.Contains(strings.ToLower(body), AckMarker) {
		return nil, nil
	}

	event, err := r.audit.Record(ctx, Event{
		Timestamp:   r.now(),
		TriggeredBy: inboundAckTrigger,
		Tier:        TierCheckIn,
	})
	if err != nil {
		return nil, fmt.Errorf("record acknowledgement: %w", err)
	}
	r.logger.Info("inbound acknowledgement recorded", "event_id", event.ID)
	return &event, nil
}

// MatchTier returns the tier of the first configured phrase contained in normalized.
func MatchTier(settings Settings, normalized string) (Tier, bool) {
	for _, phrase := range settings.TriggerPhrases() {
		if strings.Contains(normalized, phrase.Phrase) {
			return phrase.Tier, true
		}
	}
	return "", false
}

// route runs under the held lock; the lock is released only after the audit append returns.
func (r *Router) route(ctx context.Context, tier Tier, trigger string, settings Settings) (*Event, error) {
	started := r.now()
	dispatchID := uuid.NewString()
	logger := r.logger.With("dispatch_id", dispatchID, "tier", string(tier))

	contacts, err := r.contacts.ContactsByTier(ctx, tier)
	if err != nil {
		r.metrics.DispatchCompleted(ctx, tier, OutcomeFailed, r.now().Sub(started))
		return nil, fmt.Errorf("load %s contacts: %w", tier, err)
	}
	if len(contacts) == 0 {
		logger.Info("no contacts for tier; alert dropped")
		r.metrics.DispatchCompleted(ctx, tier, OutcomeNoContacts, r.now().Sub(started))
		return nil, nil
	}

	result, err := r.sender.Dispatch(ctx, trigger, tier, contacts, settings)
	if err != nil {
		logger.Error("alert dispatch failed", "contact_count", len(contacts), "error", err.Error())
		r.metrics.DispatchCompleted(ctx, tier, OutcomeFailed, r.now().Sub(started))
		return nil, err
	}

	event, err := r.audit.Record(ctx, Event{
		Timestamp:      r.now(),
		TriggeredBy:    trigger,
		Tier:           tier,
		ContactCount:   len(contacts),
		SentSMS:        result.SMSSuccessCount > 0,
		SharedLocation: result.LocationIncluded,
	})
	if err != nil {
		r.metrics.DispatchCompleted(ctx, tier, OutcomeFailed, r.now().Sub(started))
		return nil, fmt.Errorf("record alert event: %w", err)
	}

	logger.Info("alert dispatched",
		"event_id", event.ID,
		"contact_count", event.ContactCount,
		"sms_delivered", result.SMSSuccessCount,
		"shared_location", event.SharedLocation,
	)
	r.metrics.DispatchCompleted(ctx, tier, OutcomeSent, r.now().Sub(started))
	return &event, nil
}
