// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package validation

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	t.Parallel()

	v1 := GetValidator()
	v2 := GetValidator()
	if v1 == nil {
		t.Fatal("GetValidator() should not return nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
}

type innerConfig struct {
	Rate  float64 `koanf:"rate" validate:"gt=0,finite"`
	Count int     `koanf:"count" validate:"min=1,max=10"`
}

type testConfig struct {
	Inner innerConfig `koanf:"inner"`
	Mode  string      `koanf:"mode" validate:"oneof=fast slow"`
	Name  string      `koanf:"name" validate:"required,model_name"`
	Addr  string      `koanf:"addr" validate:"omitempty,hostname_port"`
	Plain int         `validate:"gte=0"`
}

func validTestConfig() testConfig {
	return testConfig{
		Inner: innerConfig{Rate: 0.5, Count: 3},
		Mode:  "fast",
		Name:  "ctr-model",
	}
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		modify    func(*testConfig)
		wantField string
		wantTag   string
	}{
		{name: "valid", modify: func(*testConfig) {}},
		{name: "valid with addr", modify: func(c *testConfig) { c.Addr = "127.0.0.1:9100" }},
		{name: "zero rate", modify: func(c *testConfig) { c.Inner.Rate = 0 }, wantField: "inner.rate", wantTag: "gt"},
		{name: "infinite rate", modify: func(c *testConfig) { c.Inner.Rate = math.Inf(1) }, wantField: "inner.rate", wantTag: "finite"},
		{name: "count too large", modify: func(c *testConfig) { c.Inner.Count = 11 }, wantField: "inner.count", wantTag: "max"},
		{name: "bad mode", modify: func(c *testConfig) { c.Mode = "medium" }, wantField: "mode", wantTag: "oneof"},
		{name: "missing name", modify: func(c *testConfig) { c.Name = "" }, wantField: "name", wantTag: "required"},
		{name: "name with slash", modify: func(c *testConfig) { c.Name = "../etc" }, wantField: "name", wantTag: "model_name"},
		{name: "name with underscore", modify: func(c *testConfig) { c.Name = "ctr_model" }, wantField: "name", wantTag: "model_name"},
		{name: "bad addr", modify: func(c *testConfig) { c.Addr = "not an addr" }, wantField: "addr", wantTag: "hostname_port"},
		{name: "untagged field uses Go name", modify: func(c *testConfig) { c.Plain = -1 }, wantField: "Plain", wantTag: "gte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validTestConfig()
			tt.modify(&cfg)
			err := ValidateStruct(&cfg)

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("ValidateStruct() unexpected error = %v", err)
				}
				return
			}

			var verr *StructValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ValidateStruct() error = %v, want *StructValidationError", err)
			}
			if len(verr.Errors()) != 1 {
				t.Fatalf("got %d field errors, want 1: %v", len(verr.Errors()), verr)
			}
			fe := verr.Errors()[0]
			if fe.Field() != tt.wantField || fe.Tag() != tt.wantTag {
				t.Errorf("field error = %s/%s, want %s/%s", fe.Field(), fe.Tag(), tt.wantField, tt.wantTag)
			}
			if !strings.Contains(fe.Error(), tt.wantField) {
				t.Errorf("message %q does not name field %q", fe.Error(), tt.wantField)
			}
		})
	}
}

func TestValidateStruct_MultipleErrors(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Inner.Count = 0
	cfg.Mode = ""

	err := ValidateStruct(&cfg)
	var verr *StructValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("ValidateStruct() error = %v, want *StructValidationError", err)
	}
	if len(verr.Errors()) != 2 {
		t.Errorf("got %d field errors, want 2", len(verr.Errors()))
	}
	if msg := verr.Error(); !strings.Contains(msg, "; ") {
		t.Errorf("combined message %q should join errors with '; '", msg)
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		modify func(*testConfig)
		want   string
	}{
		{func(c *testConfig) { c.Inner.Count = 0 }, "inner.count must be at least 1"},
		{func(c *testConfig) { c.Mode = "x" }, "mode must be one of: fast slow"},
		{func(c *testConfig) { c.Inner.Rate = -1 }, "inner.rate must be greater than 0"},
		{func(c *testConfig) { c.Name = "" }, "name is required"},
	}

	for _, tt := range tests {
		cfg := validTestConfig()
		tt.modify(&cfg)
		err := ValidateStruct(&cfg)
		if err == nil || err.Error() != tt.want {
			t.Errorf("error = %v, want %q", err, tt.want)
		}
	}
}

type testRequest struct {
	Labels []float64 `json:"labels" validate:"required,min=1,dive,finite"`
	Proba  bool      `json:"proba,omitempty"`
}

func TestValidateStruct_JSONTagNames(t *testing.T) {
	t.Parallel()

	err := ValidateStruct(&testRequest{})
	var sve *StructValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("ValidateStruct() error = %v, want *StructValidationError", err)
	}
	if got := sve.Errors()[0].Field(); got != "labels" {
		t.Errorf("Field() = %q, want json name %q", got, "labels")
	}

	err = ValidateStruct(&testRequest{Labels: []float64{1, math.Inf(1)}})
	if err == nil || !strings.Contains(err.Error(), "labels[1]") {
		t.Errorf("ValidateStruct() error = %v, want mention of labels[1]", err)
	}
}
