package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/facture_backend/models"
)

func TestValidateSiret(t *testing.T) {
	valid := []string{
		"40355025000019",
		"73282932000017",
		"403 550 250 00019",
		"403-550-250-00019",
		"403.550.250.00019",
	}
	for _, siret := range valid {
		if err := models.ValidateSiret(siret); err != nil {
			t.Fatalf("ValidateSiret(%q): unexpected error %v", siret, err)
		}
	}

	invalid := []string{
		"",
		"4035502500001",    // 13 digits
		"403550250000190",  // 15 digits
		"40355025000018",   // bad checksum
		"4035502500001a",   // non-digit
		"40 355 025 00018", // formatting never fixes a bad checksum
	}
	for _, siret := range invalid {
		if err := models.ValidateSiret(siret); err == nil {
			t.Fatalf("ValidateSiret(%q): expected error, got nil", siret)
		}
	}
}

func TestValidateSiret_SingleDigitFlip(t *testing.T) {
	// flipping any one digit of a valid number must break the checksum
	siret := "40355025000019"
	for i := 0; i < len(siret); i++ {
		mutated := []byte(siret)
		mutated[i] = '0' + (siret[i]-'0'+1)%10
		if models.IsValidSiret(string(mutated)) {
			t.Fatalf("mutation at position %d produced a valid siret %q", i, mutated)
		}
	}
}

func TestValidateSiren(t *testing.T) {
	valid := []string{"732829329", "552100556", "732 829 329"}
	for _, siren := range valid {
		if err := models.ValidateSiren(siren); err != nil {
			t.Fatalf("ValidateSiren(%q): unexpected error %v", siren, err)
		}
	}

	invalid := []string{"", "73282932", "7328293290", "732829328", "73282932x"}
	for _, siren := range invalid {
		if err := models.ValidateSiren(siren); err == nil {
			t.Fatalf("ValidateSiren(%q): expected error, got nil", siren)
		}
	}
}

func TestSirenFromSiret(t *testing.T) {
	siren, err := models.SirenFromSiret("40355025000019")
	if err != nil {
		t.Fatalf("SirenFromSiret: %v", err)
	}
	if siren != "403550250" {
		t.Fatalf("SirenFromSiret: expected 403550250, got %s", siren)
	}

	if _, err := models.SirenFromSiret("40355025000018"); err == nil {
		t.Fatalf("SirenFromSiret accepted an invalid siret")
	}
}

func TestFormatSiret(t *testing.T) {
	if got := models.FormatSiret("40355025000019"); got != "403 550 250 00019" {
		t.Fatalf("FormatSiret: got %q", got)
	}
	// formatting is idempotent
	if got := models.FormatSiret("403 550 250 00019"); got != "403 550 250 00019" {
		t.Fatalf("FormatSiret not idempotent: got %q", got)
	}
	// invalid input passes through unchanged
	if got := models.FormatSiret("not-a-siret"); got != "not-a-siret" {
		t.Fatalf("FormatSiret mangled invalid input: got %q", got)
	}
}

func TestFormatSiren(t *testing.T) {
	if got := models.FormatSiren("732829329"); got != "732 829 329" {
		t.Fatalf("FormatSiren: got %q", got)
	}
	if got := models.FormatSiren("12345"); got != "12345" {
		t.Fatalf("FormatSiren mangled invalid input: got %q", got)
	}
}
