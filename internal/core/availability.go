package core

import (
	"github.com/shopspring/decimal"
)

// AvailabilityResult is the outcome of a stock availability check.
// When OK is true but Shortage is positive, the disposal was allowed under
// an explicit negative-stock override and the shortage is reported for audit.
type AvailabilityResult struct {
	OK        bool            `json:"ok"`
	Available decimal.Decimal `json:"available"`
	Shortage  decimal.Decimal `json:"shortage"`
}

// CheckAvailability decides whether requested units can be disposed against
// the given available (zero-floored) quantity. Pure; callers are responsible
// for reading `available` under the same lock as the eventual write.
func CheckAvailability(available, requested decimal.Decimal, allowNegative bool) AvailabilityResult {
	if available.IsNegative() {
		available = decimal.Zero
	}
	res := AvailabilityResult{Available: available, Shortage: decimal.Zero}
	if requested.LessThanOrEqual(available) {
		res.OK = true
		return res
	}
	res.Shortage = requested.Sub(available)
	res.OK = allowNegative
	return res
}

// NormalizeUnits converts an entered quantity to base units. In pack mode the
// entry is in full packs/cartons and is multiplied by the item's pack size;
// in pieces mode it is used as-is.
func NormalizeUnits(entered, packSize decimal.Decimal, packMode bool) decimal.Decimal {
	if !packMode {
		return entered
	}
	if packSize.LessThanOrEqual(decimal.Zero) {
		return entered
	}
	return entered.Mul(packSize)
}
