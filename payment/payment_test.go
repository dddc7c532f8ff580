package payment

import "testing"

func TestVerifyWebhookSecret(t *testing.T) {
	cases := []struct {
		name     string
		secret   string
		provided string
		want     bool
	}{
		{"matching secret", "test-secret", "test-secret", true},
		{"wrong secret", "test-secret", "other", false},
		{"empty provided", "test-secret", "", false},
		{"empty configured secret fails closed", "", "anything", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifyWebhookSecret(tc.secret, tc.provided); got != tc.want {
				t.Fatalf("VerifyWebhookSecret(%q, %q) = %v, want %v", tc.secret, tc.provided, got, tc.want)
			}
		})
	}
}

func TestNewSessionID_Prefix(t *testing.T) {
	id, err := newSessionID()
	if err != nil {
		t.Fatalf("session id: %v", err)
	}
	if len(id) != len("cs_test_")+32 {
		t.Fatalf("unexpected session id length: %q", id)
	}
	if id[:8] != "cs_test_" {
		t.Fatalf("expected cs_test_ prefix, got %q", id)
	}

	other, err := newSessionID()
	if err != nil {
		t.Fatalf("session id: %v", err)
	}
	if id == other {
		t.Fatalf("expected unique session ids")
	}
}
