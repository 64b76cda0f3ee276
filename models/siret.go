package models

import (
	"errors"
	"strings"
)

// SIRET (14 digits, one establishment) and SIREN (9 digits, one enterprise)
// share the same Luhn-variant checksum: double each digit at an even
// 0-indexed position from the left, subtract 9 when the doubled value
// exceeds 9, and require the sum of all digits to be a multiple of 10.
// Everything here is pure; malformed input yields an error value, never a panic.

var (
	errSiretLength   = errors.New("siret must be exactly 14 digits")
	errSirenLength   = errors.New("siren must be exactly 9 digits")
	errSiretChecksum = errors.New("invalid siret checksum")
	errSirenChecksum = errors.New("invalid siren checksum")
)

// stripIdentifier removes the separators commonly typed inside official
// identifiers. Anything left that is not a digit fails the length checks.
func stripIdentifier(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '\t':
			return -1
		}
		return r
	}, s)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func luhnEvenIndexSum(digits string) int {
	sum := 0
	for i, r := range digits {
		d := int(r - '0')
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum
}

// ValidateSiret checks a 14-digit establishment identifier.
func ValidateSiret(siret string) error {
	s := stripIdentifier(siret)
	if len(s) != 14 || !allDigits(s) {
		return errSiretLength
	}
	if luhnEvenIndexSum(s)%10 != 0 {
		return errSiretChecksum
	}
	return nil
}

// ValidateSiren checks a 9-digit enterprise identifier.
func ValidateSiren(siren string) error {
	s := stripIdentifier(siren)
	if len(s) != 9 || !allDigits(s) {
		return errSirenLength
	}
	if luhnEvenIndexSum(s)%10 != 0 {
		return errSirenChecksum
	}
	return nil
}

func IsValidSiret(siret string) bool {
	return ValidateSiret(siret) == nil
}

func IsValidSiren(siren string) bool {
	return ValidateSiren(siren) == nil
}

// SirenFromSiret extracts the enterprise identifier embedded in an
// establishment identifier. Returns an error for invalid input.
func SirenFromSiret(siret string) (string, error) {
	if err := ValidateSiret(siret); err != nil {
		return "", err
	}
	return stripIdentifier(siret)[:9], nil
}

// FormatSiret renders "123 456 789 00012". Invalid input passes through
// unchanged; formatting is cosmetic and never alters validity.
func FormatSiret(siret string) string {
	s := stripIdentifier(siret)
	if len(s) != 14 || !allDigits(s) {
		return siret
	}
	return s[0:3] + " " + s[3:6] + " " + s[6:9] + " " + s[9:14]
}

// FormatSiren renders "123 456 789". Invalid input passes through unchanged.
func FormatSiren(siren string) string {
	s := stripIdentifier(siren)
	if len(s) != 9 || !allDigits(s) {
		return siren
	}
	return s[0:3] + " " + s[3:6] + " " + s[6:9]
}
