// Package calib measures and stores audio interface calibration and builds
// microphone calibration curves.
package calib

import (
	"fmt"
	"time"

	"github.com/athompson36/ambi-glass-sub000/ambisonic"
)

// Profile is the measured round-trip behavior of one audio interface at a
// given sample rate and buffer size.
type Profile struct {
	DeviceID     string     `json:"deviceId"`
	SampleRate   int        `json:"sampleRate"`
	BufferFrames int        `json:"bufferFrames"`
	LatencyMs    float64    `json:"ioLatencyMs"`
	GainsDB      [4]float64 `json:"channelGains_dB"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// ID identifies the profile as device_rate_buffer_unixtime.
func (p Profile) ID() string {
	return fmt.Sprintf("%s_%d_%d_%d", p.DeviceID, p.SampleRate, p.BufferFrames, p.CreatedAt.Unix())
}

// Matches reports whether p was measured on the given device configuration.
func (p Profile) Matches(deviceID string, sampleRate, bufferFrames int) bool {
	return p.DeviceID == deviceID && p.SampleRate == sampleRate && p.BufferFrames == bufferFrames
}

// ApplyProfile copies the profile's channel gain offsets into the interface
// gains of g.
func ApplyProfile(p Profile, g *ambisonic.CapsuleGains) {
	if g == nil {
		return
	}
	for i, db := range p.GainsDB {
		g.InterfaceDB[i] = float32(db)
	}
}
