package activitymap

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/goliatone/go-account"
)

const (
	MetadataKeyActorType = "actor_type"
	MetadataKeyFromState = "from_state"
	MetadataKeyToState   = "to_state"
)

const (
	defaultChannel    = "account"
	defaultObjectType = "user"
	defaultActorID    = "system"
)

// Record is the flat shape shipped to audit logs and downstream consumers
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*options)

type options struct {
	channel       string
	objectType    string
	actorFallback string
	clock         func() time.Time
}

func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

func WithObjectType(objectType string) Option {
	return func(o *options) {
		o.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback names the actor when neither actor nor user ids are set
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock stamps events that arrive without OccurredAt
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func resolve(opts []Option) options {
	o := options{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		clock:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Normalize flattens an account activity event into a Record
func Normalize(event account.ActivityEvent, opts ...Option) Record {
	return normalize(event, resolve(opts))
}

func normalize(event account.ActivityEvent, o options) Record {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.clock()
	}

	return Record{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.UserID),
			o.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt,
	}
}

// Sink adapts a Record consumer to account.ActivitySink
func Sink(consume func(context.Context, Record) error, opts ...Option) account.ActivitySink {
	o := resolve(opts)
	return account.ActivitySinkFunc(func(ctx context.Context, event account.ActivityEvent) error {
		return consume(ctx, normalize(event, o))
	})
}

// SlogSink writes every record as a structured slog entry
func SlogSink(lgr *slog.Logger, opts ...Option) account.ActivitySink {
	if lgr == nil {
		lgr = slog.Default()
	}
	return Sink(func(ctx context.Context, r Record) error {
		attrs := []slog.Attr{
			slog.String("actor_id", r.ActorID),
			slog.String("verb", r.Verb),
			slog.String("object_type", r.ObjectType),
			slog.String("object_id", r.ObjectID),
			slog.String("channel", r.Channel),
			slog.Time("occurred_at", r.OccurredAt),
		}
		if len(r.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", r.Metadata))
		}
		lgr.LogAttrs(ctx, slog.LevelInfo, "activity", attrs...)
		return nil
	}, opts...)
}

func metadata(event account.ActivityEvent) map[string]any {
	out := map[string]any{}
	for key, value := range event.Metadata {
		out[key] = value
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, exists := out[MetadataKeyActorType]; !exists {
			out[MetadataKeyActorType] = actorType
		}
	}

	if event.FromState != "" {
		out[MetadataKeyFromState] = string(event.FromState)
	}

	if event.ToState != "" {
		out[MetadataKeyToState] = string(event.ToState)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
