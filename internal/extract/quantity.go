package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Unit of a parsed quantity
type Unit string

const (
	UnitPercent Unit = "%"
	UnitBillion Unit = "billion" // US dollars, billions
	UnitMillion Unit = "million" // US dollars, millions
	UnitNumber  Unit = "number"  // Plain comma-grouped figure
)

// Quantity is a number with its unit as written in the text
type Quantity struct {
	Value float64
	Unit  Unit
	Raw   string
}

var (
	percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	billionRe = regexp.MustCompile(`(?i)\$\s*(\d+(?:\.\d+)?)\s*(billion|bn|b)\b`)
	millionRe = regexp.MustCompile(`(?i)\$\s*(\d+(?:\.\d+)?)\s*(million|mn|m)\b`)
	groupedRe = regexp.MustCompile(`\d{1,3}(?:,\d{3})+`)
)

// Quantities returns every number-with-unit in text, grouped by unit in the
// order percent, billions, millions, plain figures.
func Quantities(text string) []Quantity {
	var out []Quantity

	collect := func(re *regexp.Regexp, unit Unit) {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			raw := m[0]
			num := raw
			if len(m) > 1 {
				num = m[1]
			}
			v, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
			if err != nil {
				continue
			}
			out = append(out, Quantity{Value: v, Unit: unit, Raw: raw})
		}
	}

	collect(percentRe, UnitPercent)
	collect(billionRe, UnitBillion)
	collect(millionRe, UnitMillion)
	collect(groupedRe, UnitNumber)

	return out
}

// HasPercentAbove reports whether text states a percentage above limit
func HasPercentAbove(text string, limit float64) bool {
	for _, q := range Quantities(text) {
		if q.Unit == UnitPercent && q.Value > limit {
			return true
		}
	}
	return false
}
