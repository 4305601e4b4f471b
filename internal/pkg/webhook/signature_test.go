package webhook

import (
	"testing"
	"time"
)

func TestHMACVerifier(t *testing.T) {
	payload := []byte(`{"type":"document_status_updated","nonce":"evt-1"}`)
	secret := "processor-secret"

	v := HMACVerifier{Secret: secret}

	if !v.Verify(payload, SignBody(secret, payload)) {
		t.Fatalf("expected valid signature to verify")
	}
	if v.Verify(payload, SignBody("other-secret", payload)) {
		t.Fatalf("expected signature from wrong secret to fail")
	}
	if v.Verify(payload, "deadbeef") {
		t.Fatalf("expected garbage signature to fail")
	}
	if v.Verify(payload, "") {
		t.Fatalf("expected empty signature to fail")
	}
	if (HMACVerifier{}).Verify(payload, SignBody(secret, payload)) {
		t.Fatalf("expected unconfigured secret to fail closed")
	}
}

func TestTimestampedVerifier(t *testing.T) {
	payload := []byte(`{"type":"subscription.updated","nonce":"evt-2"}`)
	secret := "billing-secret"
	now := time.Unix(1_700_000_000, 0)

	v := TimestampedVerifier{
		Secret: secret,
		Window: 5 * time.Minute,
		Now:    func() time.Time { return now },
	}

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{
			name:   "valid current signature",
			header: SignTimestamped(secret, now, payload),
			want:   true,
		},
		{
			name:   "signature inside window",
			header: SignTimestamped(secret, now.Add(-4*time.Minute), payload),
			want:   true,
		},
		{
			name:   "replayed signature outside window",
			header: SignTimestamped(secret, now.Add(-10*time.Minute), payload),
			want:   false,
		},
		{
			name:   "future timestamp outside window",
			header: SignTimestamped(secret, now.Add(10*time.Minute), payload),
			want:   false,
		},
		{
			name:   "wrong secret",
			header: SignTimestamped("other", now, payload),
			want:   false,
		},
		{
			name:   "missing parts",
			header: "t=1700000000",
			want:   false,
		},
		{
			name:   "empty header",
			header: "",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Verify(payload, tt.header); got != tt.want {
				t.Fatalf("Verify(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestTimestampedVerifierBodyTamper(t *testing.T) {
	secret := "billing-secret"
	now := time.Now()
	header := SignTimestamped(secret, now, []byte(`{"amount":10}`))

	v := TimestampedVerifier{Secret: secret}
	if v.Verify([]byte(`{"amount":9999}`), header) {
		t.Fatalf("expected tampered body to fail verification")
	}
}
