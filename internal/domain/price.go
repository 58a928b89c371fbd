package domain

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var trPrinter = message.NewPrinter(language.Turkish)

// FormatPrice renders a whole-lira amount the way the storefront shows it,
// e.g. 1500 -> "₺1.500".
func FormatPrice(amount int) string {
	return "₺" + trPrinter.Sprintf("%d", amount)
}
