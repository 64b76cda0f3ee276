package models

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Intra-community VAT numbers are validated against per-country format
// rules. The table is static: country prefix -> pattern for the remainder,
// plus a human example surfaced in validation messages.

type vatFormat struct {
	pattern *regexp.Regexp
	example string
}

var vatFormats = map[string]vatFormat{
	"AT": {regexp.MustCompile(`^U\d{8}$`), "ATU12345678"},
	"BE": {regexp.MustCompile(`^0\d{9}$`), "BE0123456789"},
	"BG": {regexp.MustCompile(`^\d{9,10}$`), "BG123456789"},
	"CY": {regexp.MustCompile(`^\d{8}[A-Z]$`), "CY12345678X"},
	"CZ": {regexp.MustCompile(`^\d{8,10}$`), "CZ12345678"},
	"DE": {regexp.MustCompile(`^\d{9}$`), "DE123456789"},
	"DK": {regexp.MustCompile(`^\d{8}$`), "DK12345678"},
	"EE": {regexp.MustCompile(`^\d{9}$`), "EE123456789"},
	"EL": {regexp.MustCompile(`^\d{9}$`), "EL123456789"},
	"ES": {regexp.MustCompile(`^[A-Z0-9]\d{7}[A-Z0-9]$`), "ESX1234567X"},
	"FI": {regexp.MustCompile(`^\d{8}$`), "FI12345678"},
	"FR": {regexp.MustCompile(`^[A-Z0-9]{2}\d{9}$`), "FR12345678901"},
	"HR": {regexp.MustCompile(`^\d{11}$`), "HR12345678901"},
	"HU": {regexp.MustCompile(`^\d{8}$`), "HU12345678"},
	"IE": {regexp.MustCompile(`^(\d{7}[A-Z]{1,2}|\d[A-Z]\d{5}[A-Z])$`), "IE1234567X"},
	"IT": {regexp.MustCompile(`^\d{11}$`), "IT12345678901"},
	"LT": {regexp.MustCompile(`^(\d{9}|\d{12})$`), "LT123456789"},
	"LU": {regexp.MustCompile(`^\d{8}$`), "LU12345678"},
	"LV": {regexp.MustCompile(`^\d{11}$`), "LV12345678901"},
	"MT": {regexp.MustCompile(`^\d{8}$`), "MT12345678"},
	"NL": {regexp.MustCompile(`^\d{9}B\d{2}$`), "NL123456789B01"},
	"PL": {regexp.MustCompile(`^\d{10}$`), "PL1234567890"},
	"PT": {regexp.MustCompile(`^\d{9}$`), "PT123456789"},
	"RO": {regexp.MustCompile(`^\d{2,10}$`), "RO1234567890"},
	"SE": {regexp.MustCompile(`^\d{12}$`), "SE123456789012"},
	"SI": {regexp.MustCompile(`^\d{8}$`), "SI12345678"},
	"SK": {regexp.MustCompile(`^\d{10}$`), "SK1234567890"},
}

var countryCodeRe = regexp.MustCompile(`^[A-Z]{2}$`)

// normalizeVatNumber uppercases and strips separators/punctuation.
func normalizeVatNumber(vat string) string {
	vat = strings.ToUpper(vat)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', ',', '\t':
			return -1
		}
		return r
	}, vat)
}

// ValidateVatNumber checks an intra-community VAT number against the
// country table. Unknown country prefixes are rejected; formatting never
// influences the result.
func ValidateVatNumber(vat string) error {
	v := normalizeVatNumber(vat)
	if len(v) < 3 {
		return errors.New("vat number is too short")
	}
	cc := v[:2]
	if !countryCodeRe.MatchString(cc) {
		return errors.New("vat number must start with a 2-letter country code")
	}
	format, ok := vatFormats[cc]
	if !ok {
		return fmt.Errorf("unrecognized country code %q in vat number", cc)
	}
	if !format.pattern.MatchString(v[2:]) {
		return fmt.Errorf("vat number does not match the %s format (e.g. %s)", cc, format.example)
	}
	return nil
}

func IsValidVatNumber(vat string) bool {
	return ValidateVatNumber(vat) == nil
}

// VatNumberFromSiren derives the French VAT number from an enterprise
// identifier: key = (12 + 3*(siren mod 97)) mod 97, zero-padded to two
// digits, prefixed with "FR".
func VatNumberFromSiren(siren string) (string, error) {
	if err := ValidateSiren(siren); err != nil {
		return "", err
	}
	s := stripIdentifier(siren)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return "", err
	}
	key := (12 + 3*(n%97)) % 97
	return fmt.Sprintf("FR%02d%s", key, s), nil
}

// FormatVatNumber renders "FR 71 732829329" style output for valid numbers
// and passes invalid input through unchanged.
func FormatVatNumber(vat string) string {
	if ValidateVatNumber(vat) != nil {
		return vat
	}
	v := normalizeVatNumber(vat)
	if v[:2] == "FR" {
		return v[:2] + " " + v[2:4] + " " + v[4:]
	}
	return v[:2] + " " + v[2:]
}
