package srtp

import "testing"

func TestPolicyIsEmpty(t *testing.T) {
	tests := []struct {
		name string
		p    Policy
		want bool
	}{
		{"zero value", Policy{}, true},
		{"name only", Policy{Name: "AES_CM_128_HMAC_SHA1_80"}, true},
		{"key only", Policy{Key: []byte{1, 2, 3}}, true},
		{"both set", Policy{Name: "AES_CM_128_HMAC_SHA1_80", Key: []byte{1, 2, 3}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicyEqual(t *testing.T) {
	a := Policy{Name: "AES_CM_128_HMAC_SHA1_80", Key: []byte("0123456789abcd01234567890123")}
	b := Policy{Name: "aes_cm_128_hmac_sha1_80", Key: append([]byte{}, a.Key...)}
	if !a.Equal(b) {
		t.Fatalf("expected case-insensitive name match with equal keys to be Equal")
	}
	c := b
	c.Flags = FlagNoEncryption
	if a.Equal(c) {
		t.Fatalf("expected differing flags to break equality")
	}
	d := b
	d.Key = append([]byte{}, b.Key...)
	d.Key[0] ^= 0xff
	if a.Equal(d) {
		t.Fatalf("expected differing key bytes to break equality")
	}
}

func TestPolicyServiceLevel(t *testing.T) {
	suite := Entry(IndexOf("AES_CM_128_HMAC_SHA1_80"))
	tests := []struct {
		name  string
		flags PolicyFlag
		want  ServiceLevel
	}{
		{"default both", 0, ServiceConfAndAuth},
		{"no encryption", FlagNoEncryption, ServiceAuth},
		{"no auth", FlagNoAuthentication, ServiceConf},
		{"neither", FlagNoEncryption | FlagNoAuthentication, ServiceNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{Name: suite.Name, Flags: tt.flags}
			if got := p.ServiceLevel(suite); got != tt.want {
				t.Errorf("ServiceLevel() = %v, want %v", got, tt.want)
			}
		})
	}
	if got := (Policy{}).ServiceLevel(NullSuite()); got != ServiceNone {
		t.Errorf("NULL suite ServiceLevel() = %v, want ServiceNone", got)
	}
}

func TestValidateKeyLength(t *testing.T) {
	suite := Entry(IndexOf("AES_CM_128_HMAC_SHA1_80"))
	if err := Validate(Policy{}, suite); err != nil {
		t.Errorf("empty key should not fail Validate: %v", err)
	}
	short := Policy{Name: suite.Name, Key: make([]byte, suite.KeySaltLength-1)}
	if err := Validate(short, suite); err == nil {
		t.Errorf("expected ErrKeyLength for short key")
	}
	exact := Policy{Name: suite.Name, Key: make([]byte, suite.KeySaltLength)}
	if err := Validate(exact, suite); err != nil {
		t.Errorf("exact-length key should validate, got %v", err)
	}
}

func TestResolveSuiteUnknownName(t *testing.T) {
	_, err := resolveSuite(Policy{Name: "BOGUS"})
	if err == nil {
		t.Fatal("expected error for unknown suite name")
	}
}

func TestIsNullPolicy(t *testing.T) {
	if !isNullPolicy(Policy{}) {
		t.Error("zero-value policy should be null")
	}
	if !isNullPolicy(Policy{Name: "NULL"}) {
		t.Error("explicit NULL name should be null")
	}
	if isNullPolicy(Policy{Name: "NULL", Flags: FlagNoEncryption}) {
		t.Error("NULL with flags set should not be treated as null bypass")
	}
	if isNullPolicy(Policy{Name: "AES_CM_128_HMAC_SHA1_80"}) {
		t.Error("non-NULL suite name should not be null")
	}
}
