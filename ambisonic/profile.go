package ambisonic

// OrientationDeg is an orientation in degrees as stored in profile files.
type OrientationDeg struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// MicProfile describes one microphone: its A→B matrix, capsule trims and
// mounting orientation.
type MicProfile struct {
	Name           string         `json:"name"`
	Matrix         ABMatrix       `json:"matrix"`
	Ordering       string         `json:"ordering"`
	Orientation    OrientationDeg `json:"orientation"`
	CapsuleTrimsDB [4]float32     `json:"capsuleTrims_dB"`
}

// Ordering names for MicProfile.Ordering.
const (
	OrderingAmbiX = "AmbiX"
	OrderingFuMa  = "FuMa"
)

// DefaultMicProfile is an identity profile with AmbiX ordering.
func DefaultMicProfile() MicProfile {
	return MicProfile{
		Name:     "identity",
		Matrix:   IdentityMatrix(),
		Ordering: OrderingAmbiX,
	}
}

// Config converts the profile into an encoder configuration. Interface gains
// come from calibration and are left at 0 dB.
func (p MicProfile) Config() Config {
	return Config{
		Matrix:      p.Matrix,
		Gains:       CapsuleGains{TrimsDB: p.CapsuleTrimsDB},
		Orientation: OrientationDegrees(p.Orientation.Yaw, p.Orientation.Pitch, p.Orientation.Roll),
	}
}
