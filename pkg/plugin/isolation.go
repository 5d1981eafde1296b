package plugin

import (
	"fmt"
	"slices"

	xerrors "ExtractBridge/internal/errors"
)

// Policy restricts which capabilities a manifest entry may register under.
type Policy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities"`
}

// Merge returns a new policy using values from other when not present.
func (p Policy) Merge(other Policy) Policy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	return p
}

// MergePolicies combines the manifest defaults with a per-plugin override.
func MergePolicies(defaults Policy, plugin *Policy) Policy {
	if plugin == nil {
		return defaults
	}
	return plugin.Merge(defaults)
}

// Permits returns an error when capability is denied or, with a non-empty
// allow list, not listed.
func (p Policy) Permits(capability Capability) error {
	if slices.Contains(p.DeniedCapabilities, capability) {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("capability %s is explicitly denied", capability))
	}
	if len(p.AllowedCapabilities) > 0 && !slices.Contains(p.AllowedCapabilities, capability) {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("capability %s not permitted", capability))
	}
	return nil
}
