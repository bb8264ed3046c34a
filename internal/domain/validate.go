package domain

import "regexp"

// phonePattern is the national mobile-number shape accepted by the payment
// provider: country code 254 followed by nine digits.
var phonePattern = regexp.MustCompile(`^254\d{9}$`)

func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}
