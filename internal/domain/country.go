package domain

import "strings"

type Country string

const (
	CountryBD    Country = "BD"
	CountryUS    Country = "US"
	CountryUK    Country = "UK"
	CountryCA    Country = "CA"
	CountryAU    Country = "AU"
	CountryDE    Country = "DE"
	CountryFR    Country = "FR"
	CountryIN    Country = "IN"
	CountryPK    Country = "PK"
	CountryOther Country = "OTHER"

	// CountryAll в таргетинге оффера означает любую страну
	CountryAll Country = "ALL"
)

var countryCurrency = map[Country]string{
	CountryBD: "BDT",
	CountryUS: "USD",
	CountryUK: "GBP",
	CountryCA: "CAD",
	CountryAU: "AUD",
	CountryDE: "EUR",
	CountryFR: "EUR",
	CountryIN: "INR",
	CountryPK: "PKR",
}

// ParseCountry нормализует код страны; GB считается UK
func ParseCountry(s string) (Country, bool) {
	c := Country(strings.ToUpper(strings.TrimSpace(s)))
	if c == "GB" {
		c = CountryUK
	}
	switch c {
	case CountryBD, CountryUS, CountryUK, CountryCA, CountryAU, CountryDE, CountryFR, CountryIN, CountryPK, CountryOther:
		return c, true
	}
	return "", false
}

// Currency локальная валюта выплат для страны
func (c Country) Currency() string {
	if cur, ok := countryCurrency[c]; ok {
		return cur
	}
	return "USD"
}
