package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const number = `(\d+(?:\.\d+)?)`

var (
	// "10k-20k", "10K~20K"
	salaryKRange = regexp.MustCompile(number + `\s*[kK]\s*[-~～]\s*` + number + `\s*[kK]`)
	// "1-2万", "8~12千"
	salaryUnitRange = regexp.MustCompile(number + `\s*[-~～]\s*` + number + `\s*([万千])`)
	// "1万-2万", "8千-1.2万"
	salaryBothUnits = regexp.MustCompile(number + `\s*([万千])\s*[-~～]\s*` + number + `\s*([万千])`)
	// "10000-20000"
	salaryPlainRange = regexp.MustCompile(number + `\s*[-~～]\s*` + number)
)

// ParseSalary extracts a monthly salary range in whole currency units.
// Negotiable or unrecognized text yields (nil, nil); otherwise both bounds are
// positive and min <= max.
func ParseSalary(text string) (minSalary, maxSalary *int) {
	text = strings.TrimSpace(text)
	if text == "" || isNegotiable(text) {
		return nil, nil
	}

	if m := salaryKRange.FindStringSubmatch(text); m != nil {
		return salaryBounds(m[1], 1000, m[2], 1000)
	}
	if m := salaryUnitRange.FindStringSubmatch(text); m != nil {
		unit := unitMultiplier(m[3])
		return salaryBounds(m[1], unit, m[2], unit)
	}
	if m := salaryBothUnits.FindStringSubmatch(text); m != nil {
		return salaryBounds(m[1], unitMultiplier(m[2]), m[3], unitMultiplier(m[4]))
	}
	if m := salaryPlainRange.FindStringSubmatch(text); m != nil {
		unit := textMultiplier(text)
		return salaryBounds(m[1], unit, m[2], unit)
	}
	return nil, nil
}

func isNegotiable(text string) bool {
	return strings.Contains(text, "面议") || strings.Contains(strings.ToLower(text), "negotiable")
}

func salaryBounds(lowRaw string, lowUnit float64, highRaw string, highUnit float64) (*int, *int) {
	low, err := strconv.ParseFloat(lowRaw, 64)
	if err != nil {
		return nil, nil
	}
	high, err := strconv.ParseFloat(highRaw, 64)
	if err != nil {
		return nil, nil
	}
	lo := int(math.Round(low * lowUnit))
	hi := int(math.Round(high * highUnit))
	if lo <= 0 || hi <= 0 {
		return nil, nil
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return &lo, &hi
}

func unitMultiplier(unit string) float64 {
	switch unit {
	case "万":
		return 10000
	case "千":
		return 1000
	default:
		return 1
	}
}

// textMultiplier picks the unit for a bare range from whatever marker the text carries.
func textMultiplier(text string) float64 {
	switch {
	case strings.ContainsAny(text, "kK"):
		return 1000
	case strings.Contains(text, "万"):
		return 10000
	case strings.Contains(text, "千"):
		return 1000
	default:
		return 1
	}
}
