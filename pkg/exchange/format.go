package exchange

import (
	"math"
	"strconv"
	"strings"
)

// FormatSize truncates a quantity to szDecimals and returns the exact
// decimal string transmitted to the venue (no scientific notation). The
// truncation is done on the decimal representation, not with float
// arithmetic, so the string and the float returned by TruncateSize always
// agree byte for byte.
func FormatSize(size float64, szDecimals int) string {
	if size < 0 {
		size = -size
	}
	if math.IsNaN(size) || math.IsInf(size, 0) {
		return "0"
	}
	s := strconv.FormatFloat(size, 'f', -1, 64)
	if szDecimals < 0 {
		szDecimals = 0
	}
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		if szDecimals == 0 {
			s = s[:dot]
		} else if len(s)-dot-1 > szDecimals {
			s = s[:dot+1+szDecimals]
		}
	}
	s = trimTrailingZeros(s)
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// TruncateSize floors a quantity to szDecimals. The result re-formats to
// the identical wire string, so sizes stored locally equal what the venue
// sees.
func TruncateSize(size float64, szDecimals int) float64 {
	v, err := strconv.ParseFloat(FormatSize(size, szDecimals), 64)
	if err != nil {
		return 0
	}
	return v
}

// RoundPriceToSigFigs rounds a price to the given significant figures with
// at most six decimal places, returning the wire string. Non-positive and
// non-finite prices collapse to "0".
func RoundPriceToSigFigs(px float64, sigFigs int) string {
	if sigFigs <= 0 {
		sigFigs = 5
	}
	if !(px > 0) || math.IsNaN(px) || math.IsInf(px, 0) {
		return "0"
	}
	exp := int(math.Floor(math.Log10(px)))
	decimals := sigFigs - 1 - exp
	if decimals < 0 {
		decimals = 0
	}
	if decimals > 6 {
		decimals = 6
	}
	pow := math.Pow(10, float64(decimals))
	v := math.Round(px*pow) / pow
	return trimTrailingZeros(strconv.FormatFloat(v, 'f', decimals, 64))
}

// RoundPrice is RoundPriceToSigFigs parsed back to a float, for callers
// that keep arithmetic in floats.
func RoundPrice(px float64) float64 {
	v, err := strconv.ParseFloat(RoundPriceToSigFigs(px, 5), 64)
	if err != nil {
		return 0
	}
	return v
}

func trimTrailingZeros(s string) string {
	if !strings.ContainsRune(s, '.') {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
