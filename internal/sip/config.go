package sip

import "time"

// Config holds the SIP tech driver's bind/advertise/media settings, the
// same shape as the teacher's signaling config.Config trimmed to what
// a channel_tech implementation needs (no registrar/location fields —
// those belong to a future SIP registrar module, not the core Tech).
type Config struct {
	BindAddr      string
	AdvertiseAddr string
	Port          int

	// RTPMinPort/RTPMaxPort bound the local media.Session port pool.
	RTPMinPort int
	RTPMaxPort int

	DialTimeout time.Duration

	// AuthUser/AuthPassword answer a 401/407 digest challenge on an
	// outbound INVITE, e.g. when dialling out through a SIP trunk that
	// requires authentication. Left empty, a challenge fails the call.
	AuthUser     string
	AuthPassword string
}

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() Config {
	return Config{
		BindAddr:      "0.0.0.0",
		AdvertiseAddr: "127.0.0.1",
		Port:          5060,
		RTPMinPort:    10000,
		RTPMaxPort:    20000,
		DialTimeout:   32 * time.Second,
	}
}
