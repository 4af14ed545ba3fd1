package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is the unit published to a channel.
type Event struct {
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewEvent marshals payload into an event stamped with the current time.
func NewEvent(name string, payload any) (Event, error) {
	event := Event{Name: name, Timestamp: time.Now().UnixMilli()}
	if payload == nil {
		return event, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal payload of event %s: %w", name, err)
	}
	event.Data = data
	return event, nil
}

func CaptionQueueChannel(orgID string) string {
	return "caption-queue:org:" + orgID
}

func GenerationChannel(userID string) string {
	return "generation:user:" + userID
}

func PostChangesChannel(userID string) string {
	return "posts:user:" + userID
}

const maxChannelLength = 256

// ValidChannel rejects empty, oversized or whitespace-containing channel names.
func ValidChannel(channel string) bool {
	if channel == "" || len(channel) > maxChannelLength {
		return false
	}
	return !strings.ContainsAny(channel, " \t\r\n")
}
