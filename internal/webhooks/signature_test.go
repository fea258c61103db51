package webhooks

import "testing"

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"type":"plan.completed"}`)
	sig := SignHMAC("k", body)
	if !VerifyHMAC("k", body, sig) {
		t.Fatalf("signature should verify")
	}
	if VerifyHMAC("other", body, sig) || VerifyHMAC("k", body, "zz") {
		t.Fatalf("bad key or encoding should not verify")
	}
}
