package main

import (
	"testing"
)

// Note: humanize.ParseBytes uses SI units (decimal) for KB/MB/GB
// (1000-based) and IEC units (binary) for KiB/MiB/GiB (1024-based).
func TestParseSizeValid(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1234", 1234},
		{"0", 0},
		{"1k", 1000},
		{"1M", 1000000},
		{"8MiB", 8388608},
		{"1GiB", 1073741824},
		{"1.5M", 1500000},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseSize(tt.input)
			if err != nil {
				t.Fatalf("parseSize(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseSizeInvalid(t *testing.T) {
	tests := []string{
		"",
		"invalid",
		"1.5.5",
		"-1k",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			if _, err := parseSize(input); err == nil {
				t.Errorf("parseSize(%q) should return error", input)
			}
		})
	}
}
