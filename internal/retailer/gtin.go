package retailer

// ValidGTIN reports whether s is a structurally valid GTIN-8/12/13/14
// barcode: digits only, supported length, and a correct mod-10 check digit.
func ValidGTIN(s string) bool {
	switch len(s) {
	case 8, 12, 13, 14:
	default:
		return false
	}

	sum := 0
	// Weights alternate 3,1 from the right, starting left of the check digit.
	weight := 3
	for i := len(s) - 2; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += int(c-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}

	check := s[len(s)-1]
	if check < '0' || check > '9' {
		return false
	}
	return (10-sum%10)%10 == int(check-'0')
}
