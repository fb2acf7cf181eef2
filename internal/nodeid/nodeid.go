// Package nodeid resolves the stable identifier a process uses to tag its
// own claims and heartbeats (spec §3 Node, §6 "node-id ... defaults to a
// machine-derived id when unset"). Grounded on the teacher's config loader,
// which already falls back to a derived id when none is configured
// (internal/config/config.go); this package is split out so the boot path
// in cmd/ptrepostd can resolve the id independent of config parsing.
package nodeid

import "github.com/denisbrodbeck/machineid"

// appID scopes the protected machine id so it doesn't collide with ids
// derived by any other application on the same host.
const appID = "ptrepostd"

// Resolve returns configured if non-empty, otherwise a machine-derived id.
func Resolve(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return machineid.ProtectedID(appID)
}
