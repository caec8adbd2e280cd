package auth

import "testing"

func TestAuthenticationFlow(t *testing.T) {
	const secret = "test-secret-key-123"
	server := New(secret)
	client := New(secret)

	challenge := GenerateChallenge(1000)
	resp, err := client.GenerateResponse("test-client-id", challenge, 1005)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}

	ok, err := server.VerifyResponse(resp, challenge.Nonce, challenge.Timestamp, 1006)
	if err != nil {
		t.Fatalf("VerifyResponse: %v", err)
	}
	if !ok {
		t.Fatal("expected authentication to succeed with correct credentials")
	}
}

func TestAuthenticationWrongSecret(t *testing.T) {
	server := New("server-secret")
	client := New("wrong-secret")

	challenge := GenerateChallenge(1000)
	resp, err := client.GenerateResponse("test-client-id", challenge, 1005)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}

	ok, err := server.VerifyResponse(resp, challenge.Nonce, challenge.Timestamp, 1006)
	if err != nil {
		t.Fatalf("VerifyResponse: %v", err)
	}
	if ok {
		t.Fatal("expected authentication to fail with mismatched secrets")
	}
}

func TestChallengeTooOld(t *testing.T) {
	client := New("shared")
	challenge := GenerateChallenge(1000)

	_, err := client.GenerateResponse("client-1", challenge, 1000+ChallengeMaxAgeSeconds+1)
	if err == nil {
		t.Fatal("expected error for a challenge older than the max age")
	}
}

func TestResponseTooOld(t *testing.T) {
	server := New("shared")
	client := New("shared")
	challenge := GenerateChallenge(1000)

	resp, err := client.GenerateResponse("client-1", challenge, 1010)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	// Pin the response timestamp at 1010; verified at 1071 it is 61s
	// old, one second past the server's window.
	resp.Timestamp = 1010
	ok, err := server.VerifyResponse(resp, challenge.Nonce, challenge.Timestamp, 1010+ResponseMaxAgeSeconds+1)
	if err != nil {
		t.Fatalf("VerifyResponse: %v", err)
	}
	if ok {
		t.Fatal("expected a stale response timestamp to be rejected")
	}
}

func TestVerifyResponseNonceMismatch(t *testing.T) {
	server := New("shared")
	client := New("shared")
	challenge := GenerateChallenge(1000)

	resp, err := client.GenerateResponse("client-1", challenge, 1005)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	ok, err := server.VerifyResponse(resp, "a-different-nonce", challenge.Timestamp, 1006)
	if err != nil {
		t.Fatalf("VerifyResponse: %v", err)
	}
	if ok {
		t.Fatal("expected nonce mismatch to be rejected")
	}
}

func TestSaturatingSub(t *testing.T) {
	if got := saturatingSub(5, 10); got != 0 {
		t.Fatalf("saturatingSub(5, 10) = %d, want 0", got)
	}
	if got := saturatingSub(10, 5); got != 5 {
		t.Fatalf("saturatingSub(10, 5) = %d, want 5", got)
	}
}
