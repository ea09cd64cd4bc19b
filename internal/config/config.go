// Package config holds the immutable per-run inputs:
// Credentials and NetworkConfig. Both are built once by the CLI layer and
// threaded down into every component that needs them, rather than read from
// any package-level state: shared credentials threaded through every call
// are carried as a value, not a global.
package config

import "go.uber.org/zap"

// Transport selects plain HTTP or TLS for the VAPIX surface.
type Transport int

const (
	TransportPlain Transport = iota
	TransportTLS
)

// rootUser is the fixed administrator username; any caller-supplied value
// is overridden (and logged).
const rootUser = "root"

// Credentials bundles the administrator password and the two optional
// secondary accounts. Secondary and ONVIF sections only activate their
// respective orchestrator steps when both user and password are set.
type Credentials struct {
	RootPassword      string
	SecondaryUser     string
	SecondaryPassword string
	OnvifUser         string
	OnvifPassword     string
}

// NewCredentials builds a Credentials value, forcing the administrator
// username to "root" regardless of what a caller asked for.
func NewCredentials(requestedAdminUser, rootPassword string, log *zap.SugaredLogger) Credentials {
	if requestedAdminUser != "" && requestedAdminUser != rootUser && log != nil {
		log.Infow("overriding requested admin username; the device admin account is always root",
			"requested", requestedAdminUser)
	}
	return Credentials{RootPassword: rootPassword}
}

// HasSecondary reports whether the secondary account step should run.
func (c Credentials) HasSecondary() bool {
	return c.SecondaryUser != "" && c.SecondaryPassword != ""
}

// HasOnvif reports whether the ONVIF user-creation step should run.
func (c Credentials) HasOnvif() bool {
	return c.OnvifUser != "" && c.OnvifPassword != ""
}

// NetworkConfig carries the subnet-wide settings applied to every device's
// final static address.
type NetworkConfig struct {
	SubnetMask string
	Gateway    string
	Transport  Transport
}
