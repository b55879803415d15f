package remoteid

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty string produces zero ID", "", ""},
		{"15-char ID gets zero-padded", "abc123def456789", "0abc123def456789"},
		{"16-char ID unchanged", "abc123def4567890", "abc123def4567890"},
		{"uppercase lowercased", "ABC123DEF4567890", "abc123def4567890"},
		{"short 3-char ID padded to 16", "abc", "0000000000000abc"},
		{"idempotent - already normalized", "0abc123def456789", "0abc123def456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.raw)
			if got.String() != tt.want {
				t.Errorf("New(%q) = %q, want %q", tt.raw, got.String(), tt.want)
			}
		})
	}
}

func TestID_IsZero(t *testing.T) {
	tests := []struct {
		name string
		id   ID
		want bool
	}{
		{"zero value struct", ID{}, true},
		{"empty string via New", New(""), true},
		{"non-zero ID", New("abc123def4567890"), false},
		{"padded but non-zero", New("abc"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.IsZero(); got != tt.want {
				t.Errorf("ID{%q}.IsZero() = %v, want %v", tt.id.String(), got, tt.want)
			}
		})
	}
}

func TestID_Equal(t *testing.T) {
	a := New("ABC123DEF4567890")
	b := New("abc123def4567890")
	c := New("different1234567")

	if !a.Equal(b) {
		t.Error("expected case-different IDs to be equal after normalization")
	}

	if a.Equal(c) {
		t.Error("expected different IDs to not be equal")
	}
}

func TestID_ScanAndValue(t *testing.T) {
	t.Run("scan string", func(t *testing.T) {
		var id ID
		if err := id.Scan("ABC123def4567890"); err != nil {
			t.Fatalf("Scan(string) error: %v", err)
		}

		if id.String() != "abc123def4567890" {
			t.Errorf("Scan(string) = %q, want %q", id.String(), "abc123def4567890")
		}
	})

	t.Run("scan nil produces zero ID", func(t *testing.T) {
		var id ID
		if err := id.Scan(nil); err != nil {
			t.Fatalf("Scan(nil) error: %v", err)
		}

		if !id.IsZero() {
			t.Errorf("Scan(nil) produced non-zero ID: %q", id.String())
		}
	})

	t.Run("scan unsupported type returns error", func(t *testing.T) {
		var id ID
		if err := id.Scan(42); err == nil {
			t.Error("Scan(int) should return error")
		}
	})

	t.Run("zero ID writes nil", func(t *testing.T) {
		val, err := (ID{}).Value()
		if err != nil {
			t.Fatalf("Value() error: %v", err)
		}

		if val != nil {
			t.Errorf("zero ID.Value() = %v, want nil", val)
		}
	})
}

func TestID_RoundTrip(t *testing.T) {
	original := New("ABC123DEF4567890")

	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var restored ID
	if err := restored.Scan(val); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	if !original.Equal(restored) {
		t.Errorf("round-trip failed: original=%q, restored=%q", original.String(), restored.String())
	}
}

func TestNewAccountRef(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"owned root", "GDRIVE:me@example.com", false},
		{"shared root", "GDRIVE:me@example.com:shared:01ABCDEF", false},
		{"missing handle", "GDRIVE:", true},
		{"no colon", "GDRIVE", true},
		{"bad third segment", "GDRIVE:me@example.com:weird:x", true},
		{"shared missing source item", "GDRIVE:me@example.com:shared:", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := NewAccountRef(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAccountRef(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}

			if err == nil && ref.String() != tt.raw {
				t.Errorf("round-trip String() = %q, want %q", ref.String(), tt.raw)
			}
		})
	}
}

func TestAccountRef_SharedAccessors(t *testing.T) {
	ref := MustAccountRef("GDRIVE:me@example.com:shared:01ABCDEF")

	if !ref.IsShared() {
		t.Fatal("expected IsShared() true")
	}

	if ref.SourceItem() != "01ABCDEF" {
		t.Fatalf("SourceItem() = %q, want 01ABCDEF", ref.SourceItem())
	}

	owned := MustAccountRef("GDRIVE:me@example.com")
	if owned.IsShared() || owned.SourceItem() != "" {
		t.Fatal("owned ref must not report shared")
	}
}

func TestAccountRef_Equal(t *testing.T) {
	a := MustAccountRef("GDRIVE:me@example.com")
	b := MustAccountRef("GDRIVE:me@example.com")
	c := MustAccountRef("GDRIVE:other@example.com")

	if !a.Equal(b) {
		t.Error("expected identical refs to be equal")
	}

	if a.Equal(c) {
		t.Error("expected different handles to not be equal")
	}
}
