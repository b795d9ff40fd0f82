package core

type BundleTier string

const (
	TierValue       BundleTier = "value"
	TierStandard    BundleTier = "standard"
	TierPerformance BundleTier = "performance"
	TierPower       BundleTier = "power"
	TierGraphics    BundleTier = "graphics"
)

type Role string

const (
	RoleEmployee   Role = "employee"
	RoleContractor Role = "contractor"
	RoleAdmin      Role = "admin"
)

// TierPolicy carries the per-tier policy knobs: who may request the
// tier and what it costs.
type TierPolicy struct {
	HourlyRate   float64
	AllowedRoles []Role
}

var tierPolicies = map[BundleTier]TierPolicy{
	TierValue:       {HourlyRate: 0.19, AllowedRoles: []Role{RoleEmployee, RoleContractor, RoleAdmin}},
	TierStandard:    {HourlyRate: 0.30, AllowedRoles: []Role{RoleEmployee, RoleContractor, RoleAdmin}},
	TierPerformance: {HourlyRate: 0.57, AllowedRoles: []Role{RoleEmployee, RoleAdmin}},
	TierPower:       {HourlyRate: 1.53, AllowedRoles: []Role{RoleEmployee, RoleAdmin}},
	TierGraphics:    {HourlyRate: 2.30, AllowedRoles: []Role{RoleAdmin}},
}

// ValidTier reports whether t names a known bundle tier.
func ValidTier(t BundleTier) bool {
	_, ok := tierPolicies[t]
	return ok
}

// TierAllowed reports whether the role may request the tier.
func TierAllowed(role Role, tier BundleTier) bool {
	p, ok := tierPolicies[tier]
	if !ok {
		return false
	}
	for _, r := range p.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// EstimatedMonthlyCost is the budget-check estimate for a tier,
// assuming a 160-hour working month.
func EstimatedMonthlyCost(tier BundleTier) float64 {
	return tierPolicies[tier].HourlyRate * 160
}
