package config

import "testing"

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"zero", "0", 0, false},
		{"raw bytes", "1024", 1024, false},
		{"kb", "1KB", kilobyte, false},
		{"mib", "10MiB", 10 * mebibyte, false},
		{"gib lowercase", "1gib", gibibyte, false},
		{"fractional", "1.5GB", int64(1.5 * float64(gigabyte)), false},
		{"tib", "2TiB", 2 * tebibyte, false},
		{"negative raw", "-5", 0, true},
		{"garbage", "banana", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSize(%q) = %d, want error", tt.input, got)
				}

				return
			}

			if err != nil {
				t.Fatalf("ParseSize(%q) unexpected error: %v", tt.input, err)
			}

			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
