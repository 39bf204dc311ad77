package ratelimit

import (
	"net/netip"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/policy"
	"github.com/tkingovr/quotaguard/internal/router"
	"github.com/tkingovr/quotaguard/internal/runtime"
)

// PopulateDescriptors builds the descriptors of the given stage. Entries
// run in configured order; an entry whose disable key is switched off at
// runtime contributes nothing.
func PopulateDescriptors(p policy.RateLimitPolicy, stage uint32, md *api.MessageMetadata,
	route router.RouteEntry, localClusterName string, remote netip.Addr, snap runtime.Snapshot) []api.Descriptor {
	if p == nil {
		return nil
	}

	var descriptors []api.Descriptor
	for _, entry := range p.GetApplicableRateLimit(stage) {
		if key := entry.DisableKey(); key != "" && !snap.FeatureEnabled(DisableKeyRuntimeFlag(key), 100) {
			continue
		}
		descriptors = entry.PopulateDescriptors(route, descriptors, localClusterName, md, remote)
	}
	return descriptors
}
