package srtp

import "testing"

func TestIndexOf(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"", 0},
		{"NULL", 0},
		{"null", 0},
		{"AES_CM_128_HMAC_SHA1_80", 1},
		{"aes_cm_128_hmac_sha1_80", 1},
		{"AEAD_AES_256_GCM", 6},
		{"NOT_A_SUITE", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IndexOf(tt.name); got != tt.want {
				t.Errorf("IndexOf(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestEntryOutOfRangeReturnsNull(t *testing.T) {
	for _, idx := range []int{-1, len(registry), 1000} {
		if got := Entry(idx); got.Name != "NULL" {
			t.Errorf("Entry(%d) = %q, want NULL", idx, got.Name)
		}
	}
}

func TestNamesIncludesNullAndNonNullDoesNot(t *testing.T) {
	names := Names()
	if names[0] != "NULL" {
		t.Fatalf("Names()[0] = %q, want NULL", names[0])
	}
	for _, n := range NonNullNames() {
		if n == "NULL" {
			t.Fatalf("NonNullNames() unexpectedly contains NULL")
		}
	}
	if len(NonNullNames()) != len(names)-1 {
		t.Errorf("NonNullNames() len = %d, want %d", len(NonNullNames()), len(names)-1)
	}
}

func TestRegistryKeyLengthsAreConsistent(t *testing.T) {
	for _, s := range registry {
		if s.Name == "NULL" {
			continue
		}
		if s.KeySaltLength <= s.SaltLength {
			t.Errorf("%s: KeySaltLength %d must exceed SaltLength %d", s.Name, s.KeySaltLength, s.SaltLength)
		}
	}
}
