// Package gap implements the oversampling and gap-accounting arithmetic
// that compensates for downstream attrition between stages.
//
// Every stage after discovery shrinks the candidate pool: research rejects
// ICP mismatches and contact discovery fails to find verifiable people for
// some companies. The discovery stage therefore overshoots the final target
// by a configurable factor, and each stage's exit condition is expressed as
// a remaining gap against its own target.
package gap

import (
	"math"
)

// DefaultOversampleFactor is applied when a run does not configure one.
const DefaultOversampleFactor = 2.0

// DiscoveryTarget returns how many companies discovery must find for the
// given final target: floor(target x factor).
func DiscoveryTarget(targetQuantity int, oversampleFactor float64) int {
	if targetQuantity <= 0 {
		return 0
	}
	if oversampleFactor <= 0 {
		oversampleFactor = DefaultOversampleFactor
	}
	return int(math.Floor(float64(targetQuantity) * oversampleFactor))
}

// ContactTarget returns how many contacts the contact-discovery stage must
// find: minimum contacts per company x companies promoted.
func ContactTarget(promotedCompanies, minContactsPerCompany int) int {
	if promotedCompanies <= 0 || minContactsPerCompany <= 0 {
		return 0
	}
	return promotedCompanies * minContactsPerCompany
}

// Remaining returns how many more units are still needed, never negative.
func Remaining(target, have int) int {
	if have >= target {
		return 0
	}
	return target - have
}
