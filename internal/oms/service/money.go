package service

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var copPrinter = message.NewPrinter(language.MustParse("es-CO"))

// FormatCOP renders an amount the way cashiers read it, e.g. $55.000.
func FormatCOP(d decimal.Decimal) string {
	if d.IsInteger() {
		return copPrinter.Sprintf("$%d", d.IntPart())
	}
	f, _ := d.Round(2).Float64()
	return copPrinter.Sprintf("$%.2f", f)
}
