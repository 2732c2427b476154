package agent

import "time"

// Source identifies the origin of an inbound signal
type Source string

const (
	SourceEmail     Source = "EMAIL"
	SourceWebhook   Source = "WEBHOOK"
	SourceDBTrigger Source = "DB_TRIGGER"
	SourceWorker    Source = "WORKER"
	SourceAPI       Source = "API"
	SourceSchedule  Source = "SCHEDULE"
)

var validSources = map[Source]bool{
	SourceEmail:     true,
	SourceWebhook:   true,
	SourceDBTrigger: true,
	SourceWorker:    true,
	SourceAPI:       true,
	SourceSchedule:  true,
}

// String returns the string representation of the source
func (s Source) String() string {
	return string(s)
}

// IsValid returns true if the source is one of the defined constants
func (s Source) IsValid() bool {
	return validSources[s]
}

// Input is a single unit of inbound work. It is immutable once created
// and consumed exactly once by the decision engine.
type Input struct {
	Source         Source                 `json:"source"`
	Type           string                 `json:"type"`
	RawContent     string                 `json:"raw_content"`
	StructuredData map[string]interface{} `json:"structured_data,omitempty"`
	Metadata       map[string]string      `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
}

// Sender returns the sender metadata hint, if any
func (in *Input) Sender() string {
	if in.Metadata == nil {
		return ""
	}
	return in.Metadata["sender"]
}
