package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CloudEvent is the JSON envelope for every message on the ride topics.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Subject         string          `json:"subject,omitempty"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

// NewCloudEvent wraps data in a CloudEvent with a fresh ID.
func NewCloudEvent(source, eventType string, data interface{}) (CloudEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return CloudEvent{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          source,
		Type:            eventType,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            raw,
	}, nil
}

// ParseData decodes the event payload into v.
func (e CloudEvent) ParseData(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("cloud event %s has no data", e.ID)
	}
	return json.Unmarshal(e.Data, v)
}

// ParseCloudEvent decodes a raw message value.
func ParseCloudEvent(raw []byte) (CloudEvent, error) {
	var e CloudEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return CloudEvent{}, fmt.Errorf("failed to parse cloud event: %w", err)
	}
	if e.Type == "" {
		return CloudEvent{}, fmt.Errorf("cloud event has no type")
	}
	return e, nil
}
