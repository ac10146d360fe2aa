package models

import "github.com/google/uuid"

// Channel names a push stream delivered to every client connected to a match.
type Channel string

const (
	ChannelTimeUpdate             Channel = "time-update"
	ChannelControlPointTimeUpdate Channel = "control-point-time-update"
	ChannelBombTimeUpdate         Channel = "bomb-time-update"
	ChannelAreaControlUpdate      Channel = "area-control-update"
)

// AreaControlUpdate carries the since-reset points of one control point. CapturedBy is set when
// the update comes with an ownership change.
type AreaControlUpdate struct {
	ControlPointID uuid.UUID          `json:"controlPointId"`
	Points         map[string]float64 `json:"points"`
	CapturedBy     *string            `json:"capturedBy,omitempty"`
}
