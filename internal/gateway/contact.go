package gateway

import (
	"strings"
	"unicode"
)

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DigitsOnly strips everything but 0-9 from a phone number.
func DigitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SplitPhone separates a national number into area code and subscriber
// number. A leading country code is dropped when it matches countryCode.
// Colombian mobiles (10 digits starting with 3) use the first three digits
// as area code; landlines use the first digit.
func SplitPhone(phone, countryCode string) (areaCode, number string) {
	digits := DigitsOnly(phone)
	if countryCode != "" && strings.HasPrefix(digits, countryCode) && len(digits) > 10 {
		digits = strings.TrimPrefix(digits, countryCode)
	}

	switch {
	case len(digits) == 10 && digits[0] == '3':
		return digits[:3], digits[3:]
	case len(digits) > 7:
		return digits[:len(digits)-7], digits[len(digits)-7:]
	default:
		return "", digits
	}
}
