package pubsub

import (
	"fmt"
	"strings"

	"github.com/octoanomaly/octoanomaly/internal/storage"
)

// ChannelAnomalies is the channel carrying every AnomalyRecord (spec §6).
const ChannelAnomalies = "anomalies"

// ChannelProcessingStats carries one message per processed batch (spec §6).
const ChannelProcessingStats = "processing_stats"

// ChannelSeverity returns the per-severity channel name.
func ChannelSeverity(s storage.Severity) string {
	return fmt.Sprintf("anomalies_%s", strings.ToLower(string(s)))
}

// ChannelUser returns the per-actor channel name.
func ChannelUser(actorID int64) string {
	return fmt.Sprintf("user_%d", actorID)
}

// ChannelRepo returns the per-repository channel name.
func ChannelRepo(fullName string) string {
	return fmt.Sprintf("repo_%s", fullName)
}

// ProcessingStats is the processing_stats channel's message payload
// (spec §6).
type ProcessingStats struct {
	BatchID           string `json:"batch_id"`
	EventsProcessed   int    `json:"events_processed"`
	AnomaliesDetected int    `json:"anomalies_detected"`
	BatchSize         int    `json:"batch_size"`
	DroppedByPriority int    `json:"dropped_by_priority"`
	DetectorTimeouts  int    `json:"detector_timeouts"`
}
