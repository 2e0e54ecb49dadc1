package webhook

import "testing"

func TestVerifySignature_RoundTrip(t *testing.T) {
	body := []byte(`{"trigger":"appointment.scheduled"}`)
	sig := ComputeSignature("shh", body)

	result := VerifySignature("shh", body, sig)
	if !result.Valid || result.Reason != ReasonOK {
		t.Fatalf("expected valid signature, got %+v", result)
	}
}

func TestVerifySignature_PrefixOptional(t *testing.T) {
	body := []byte("payload")
	sig := ComputeSignature("shh", body)
	bare := sig[len("sha256="):]

	if result := VerifySignature("shh", body, bare); !result.Valid {
		t.Errorf("unprefixed signature must validate, got %+v", result)
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	body := []byte(`{"trigger":"appointment.scheduled"}`)
	sig := ComputeSignature("shh", body)

	tampered := make([]byte, len(body))
	copy(tampered, body)
	tampered[len(tampered)-2] ^= 0x01

	result := VerifySignature("shh", tampered, sig)
	if result.Valid || result.Reason != ReasonMismatch {
		t.Fatalf("single-byte mutation must invalidate, got %+v", result)
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte("payload")
	sig := ComputeSignature("right", body)

	if result := VerifySignature("wrong", body, sig); result.Valid {
		t.Fatal("wrong secret must invalidate")
	}
}

func TestVerifySignature_ReasonCodes(t *testing.T) {
	body := []byte("payload")
	sig := ComputeSignature("shh", body)

	tests := []struct {
		name   string
		secret string
		header string
		reason VerifyReason
	}{
		{"no secret", "", sig, ReasonNoSecret},
		{"no header", "shh", "", ReasonNoSignature},
		{"truncated", "shh", "sha256=abcd", ReasonLengthMismatch},
		{"not hex", "shh", "sha256=zz" + sig[9:], ReasonMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := VerifySignature(tt.secret, body, tt.header)
			if result.Valid {
				t.Fatal("expected invalid result")
			}
			if result.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, result.Reason)
			}
		})
	}
}
