package models

// PenniesPerShilling is the canonical conversion rate. Every currency
// mutation is done on the integer penny count; shillings are display only.
const PenniesPerShilling = 12

// Shillings returns the whole-shilling part of a penny amount.
func Shillings(pennies int64) int64 {
	return pennies / PenniesPerShilling
}

// SplitPennies breaks a penny total into shillings and remainder pennies.
func SplitPennies(total int64) (shillings, pennies int64) {
	return total / PenniesPerShilling, total % PenniesPerShilling
}

// ToPennies converts a shilling/penny pair back to the canonical total.
func ToPennies(shillings, pennies int64) int64 {
	return shillings*PenniesPerShilling + pennies
}
