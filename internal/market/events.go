package market

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the MarketEvent union.
type EventType string

const (
	EventTick        EventType = "tick"
	EventNotice      EventType = "notice"
	EventSentiment   EventType = "sentiment"
	EventCorrelation EventType = "correlation"
)

// Tick is a normalized price update for one instrument.
type Tick struct {
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	High24h    float64   `json:"high_24h"`
	Low24h     float64   `json:"low_24h"`
	OpenToday  float64   `json:"open_today"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notice is an exchange announcement with pre-extracted keywords.
type Notice struct {
	Text      string    `json:"text"`
	Keywords  []string  `json:"keywords"`
	Timestamp time.Time `json:"timestamp"`
}

// Sentiment carries the fear/greed index, 0 (extreme fear) to 100.
type Sentiment struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
}

// CorrelationUpdate reports a pairwise price correlation with lead/lag.
type CorrelationUpdate struct {
	InstrumentA string    `json:"instrument_a"`
	InstrumentB string    `json:"instrument_b"`
	Coefficient float64   `json:"coefficient"`
	LagMinutes  int       `json:"lag_minutes"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event is the tagged union delivered by the normalizer. Exactly one payload
// pointer is non-nil, matching Type. Events are immutable once constructed.
type Event struct {
	Type        EventType          `json:"type"`
	Tick        *Tick              `json:"tick,omitempty"`
	Notice      *Notice            `json:"notice,omitempty"`
	Sentiment   *Sentiment         `json:"sentiment,omitempty"`
	Correlation *CorrelationUpdate `json:"correlation,omitempty"`
}

// Timestamp returns the arrival timestamp of the wrapped payload.
func (e Event) Timestamp() time.Time {
	switch e.Type {
	case EventTick:
		return e.Tick.Timestamp
	case EventNotice:
		return e.Notice.Timestamp
	case EventSentiment:
		return e.Sentiment.Timestamp
	case EventCorrelation:
		return e.Correlation.Timestamp
	}
	return time.Time{}
}

// Validate checks that the union tag and payload agree.
func (e Event) Validate() error {
	switch e.Type {
	case EventTick:
		if e.Tick == nil {
			return fmt.Errorf("tick event without tick payload")
		}
		if e.Tick.Instrument == "" {
			return fmt.Errorf("tick without instrument")
		}
		if e.Tick.Price <= 0 {
			return fmt.Errorf("tick %s with non-positive price %.2f", e.Tick.Instrument, e.Tick.Price)
		}
	case EventNotice:
		if e.Notice == nil {
			return fmt.Errorf("notice event without notice payload")
		}
	case EventSentiment:
		if e.Sentiment == nil {
			return fmt.Errorf("sentiment event without sentiment payload")
		}
		if e.Sentiment.Index < 0 || e.Sentiment.Index > 100 {
			return fmt.Errorf("sentiment index %d out of range", e.Sentiment.Index)
		}
	case EventCorrelation:
		if e.Correlation == nil {
			return fmt.Errorf("correlation event without correlation payload")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// NewTick wraps a Tick into an Event.
func NewTick(t Tick) Event { return Event{Type: EventTick, Tick: &t} }

// NewNotice wraps a Notice into an Event.
func NewNotice(n Notice) Event { return Event{Type: EventNotice, Notice: &n} }

// NewSentiment wraps a Sentiment into an Event.
func NewSentiment(s Sentiment) Event { return Event{Type: EventSentiment, Sentiment: &s} }

// NewCorrelation wraps a CorrelationUpdate into an Event.
func NewCorrelation(c CorrelationUpdate) Event {
	return Event{Type: EventCorrelation, Correlation: &c}
}

// ParseLine decodes one JSONL event as written by the recorder/replay tools.
func ParseLine(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
