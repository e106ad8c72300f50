// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"errors"
	"testing"
)

func TestEnvVar_String(t *testing.T) {
	ev := EnvVar{Key: "APP_PORT", Value: "8080"}
	if got := ev.String(); got != "APP_PORT=8080" {
		t.Errorf("String() = %q", got)
	}
}

func TestEnvVar_Redacted(t *testing.T) {
	secret := EnvVar{Key: "POSTGRES_PASSWORD", Value: "hunter2", Sensitive: true}
	if got := secret.Redacted(); got != "POSTGRES_PASSWORD=[REDACTED]" {
		t.Errorf("Redacted() = %q", got)
	}

	plain := EnvVar{Key: "APP_PORT", Value: "8080"}
	if got := plain.Redacted(); got != "APP_PORT=8080" {
		t.Errorf("non-sensitive Redacted() = %q", got)
	}
}

func TestEnvVar_Validate(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"APP_PORT", false},
		{"_PRIVATE", false},
		{"lower_case", false},
		{"", true},
		{"9STARTS_WITH_DIGIT", true},
		{"HAS-DASH", true},
		{"HAS SPACE", true},
		{"INJECT;rm", true},
	}

	for _, tt := range tests {
		err := EnvVar{Key: tt.key}.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidEnvVarKey) {
			t.Errorf("Validate(%q) should wrap ErrInvalidEnvVarKey", tt.key)
		}
	}
}

func TestEnvVars_Render(t *testing.T) {
	vars := EnvVars{
		{Key: "APP_PORT", Value: "8080"},
		{Key: "POSTGRES_PASSWORD", Value: "s3cret", Sensitive: true},
	}

	want := "APP_PORT=8080\nPOSTGRES_PASSWORD=s3cret\n"
	if got := vars.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestEnvVars_Validate_ReportsFirstFailure(t *testing.T) {
	vars := EnvVars{
		{Key: "GOOD", Value: "1"},
		{Key: "BAD KEY", Value: "2"},
	}
	if err := vars.Validate(); err == nil {
		t.Error("Validate should fail on invalid key")
	}
}

func TestEnvVars_RedactedStrings(t *testing.T) {
	vars := EnvVars{
		{Key: "A", Value: "1"},
		{Key: "B", Value: "2", Sensitive: true},
	}
	got := vars.RedactedStrings()
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=[REDACTED]" {
		t.Errorf("RedactedStrings() = %v", got)
	}
}
