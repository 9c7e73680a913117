package middleware

import "github.com/aeonpay/x402evm/facilitator"

// DiscoverableRoutes implements facilitator.DiscoveryFeed, exposing every
// route registered with Discoverable:true and its InputSchema/OutputSchema
// pair (spec §4.3 "Discovery/schema extension", grounded on the teacher's
// extensions/bazaar).
func (s *Service) DiscoverableRoutes() []facilitator.DiscoverableRoute {
	var out []facilitator.DiscoverableRoute
	for _, route := range s.routes {
		if !route.config.Discoverable {
			continue
		}
		for _, req := range route.config.Accepts {
			out = append(out, facilitator.DiscoverableRoute{
				Requirement:  req,
				InputSchema:  route.config.InputSchema,
				OutputSchema: route.config.OutputSchema,
			})
		}
	}
	return out
}
