package gsapi

import (
	"time"

	"github.com/signalsfoundry/groundlink/model"
)

// ListPlansRequest selects the plans of one ground station whose AOS lies in
// [AOSAfter, AOSBefore].
type ListPlansRequest struct {
	GroundStationID string    `json:"ground_station_id"`
	AOSAfter        time.Time `json:"aos_after"`
	AOSBefore       time.Time `json:"aos_before"`
}

// ListPlansResponse carries the matching plans ordered by AOS.
type ListPlansResponse struct {
	Plans []model.Plan `json:"plans"`
}

// StreamActivation opens a ground-station stream. It must be the first
// message the client sends.
type StreamActivation struct {
	GroundStationID string `json:"ground_station_id"`
	StreamTag       string `json:"stream_tag"`
}

// StreamRequest is one client-to-server message on the ground-station stream.
type StreamRequest struct {
	Activation *StreamActivation      `json:"activation,omitempty"`
	Telemetry  *model.TelemetryRecord `json:"telemetry,omitempty"`
}

// StreamResponse is one server-to-client message on the ground-station stream.
type StreamResponse struct {
	Command *model.Command `json:"command,omitempty"`
}
