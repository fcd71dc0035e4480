// Package stringutil contains small string helpers shared across packages.
package stringutil

import "net/mail"

// StringAddress converts an address to a display string, tolerating nil.
func StringAddress(a *mail.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// StringAddressList converts a list of addresses to a list of strings.
func StringAddressList(addrs []*mail.Address) []string {
	s := make([]string, len(addrs))
	for i, a := range addrs {
		if a != nil {
			s[i] = a.String()
		}
	}
	return s
}
