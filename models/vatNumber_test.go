package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/facture_backend/models"
)

func TestValidateVatNumber(t *testing.T) {
	valid := []string{
		"FR71732829329",
		"FR 71 732 829 329",
		"fr71732829329", // case insensitive
		"DE123456789",
		"ATU12345678",
		"NL123456789B01",
		"BE0123456789",
		"IE1234567X",
		"ESX1234567X",
	}
	for _, vat := range valid {
		if err := models.ValidateVatNumber(vat); err != nil {
			t.Fatalf("ValidateVatNumber(%q): unexpected error %v", vat, err)
		}
	}

	invalid := []string{
		"",
		"FR",
		"XX123456789",    // unknown country
		"DE12345678",     // too short for DE
		"FR7173282932",   // FR needs 2 chars + 9 digits
		"NL123456789",    // NL needs the B block
		"123456789",      // no country prefix
		"1273282932900",  // digits where the prefix should be
	}
	for _, vat := range invalid {
		if err := models.ValidateVatNumber(vat); err == nil {
			t.Fatalf("ValidateVatNumber(%q): expected error, got nil", vat)
		}
	}
}

func TestVatNumberFromSiren(t *testing.T) {
	cases := []struct {
		siren string
		want  string
	}{
		{"732829329", "FR71732829329"},
		{"552100556", "FR05552100556"}, // key below 10 is zero-padded
		{"732 829 329", "FR71732829329"},
	}
	for _, c := range cases {
		got, err := models.VatNumberFromSiren(c.siren)
		if err != nil {
			t.Fatalf("VatNumberFromSiren(%q): %v", c.siren, err)
		}
		if got != c.want {
			t.Fatalf("VatNumberFromSiren(%q): expected %s, got %s", c.siren, c.want, got)
		}
	}
}

func TestVatNumberFromSiren_DerivedIsValid(t *testing.T) {
	vat, err := models.VatNumberFromSiren("732829329")
	if err != nil {
		t.Fatalf("VatNumberFromSiren: %v", err)
	}
	if !models.IsValidVatNumber(vat) {
		t.Fatalf("derived vat number %q fails format validation", vat)
	}
}

func TestVatNumberFromSiren_RejectsInvalidSiren(t *testing.T) {
	// checksum failure, not just length
	if _, err := models.VatNumberFromSiren("732829328"); err == nil {
		t.Fatalf("VatNumberFromSiren accepted a siren with a bad checksum")
	}
	if _, err := models.VatNumberFromSiren("12345"); err == nil {
		t.Fatalf("VatNumberFromSiren accepted a short siren")
	}
}

func TestFormatVatNumber(t *testing.T) {
	if got := models.FormatVatNumber("FR71732829329"); got != "FR 71 732829329" {
		t.Fatalf("FormatVatNumber: got %q", got)
	}
	if got := models.FormatVatNumber("DE123456789"); got != "DE 123456789" {
		t.Fatalf("FormatVatNumber: got %q", got)
	}
	if got := models.FormatVatNumber("garbage"); got != "garbage" {
		t.Fatalf("FormatVatNumber mangled invalid input: got %q", got)
	}
}
