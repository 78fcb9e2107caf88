package investigation

import (
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// EventType names a progress milestone
type EventType string

const (
	EventClassified    EventType = "classified"
	EventTraceComplete EventType = "trace_complete"
	EventOpinionReady  EventType = "opinion_ready"
	EventFailed        EventType = "failed"
)

// Event is one progress notification
type Event struct {
	Type            EventType      `json:"type"`
	InvestigationID string         `json:"investigationId"`
	Seed            models.Address `json:"seed"`
	Timestamp       time.Time      `json:"timestamp"`
	Data            any            `json:"data,omitempty"`
}

// ProgressPublisher receives progress events. Publish must not block.
type ProgressPublisher interface {
	Publish(ev Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
