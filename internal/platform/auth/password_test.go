package auth

import "testing"

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pw")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if hash == "s3cret-pw" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !CheckPassword(hash, "s3cret-pw") {
		t.Error("expected matching password to verify")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("expected wrong password to fail")
	}
	if CheckPassword("not-a-hash", "s3cret-pw") {
		t.Error("expected malformed hash to fail")
	}
}
