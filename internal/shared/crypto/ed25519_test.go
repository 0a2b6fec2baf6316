package crypto

import "testing"

func TestGenerateAndRoundTripKeys(t *testing.T) {
	pub, priv, err := GenerateEd25519Key()
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}

	encPriv := EncodePrivateKey(priv)
	gotPriv, err := DecodePrivateKey(encPriv)
	if err != nil {
		t.Fatalf("DecodePrivateKey: %v", err)
	}
	if string(gotPriv) != string(priv) {
		t.Fatal("private key round-trip mismatch")
	}

	encPub := EncodePublicKey(pub)
	gotPub, err := DecodePublicKey(encPub)
	if err != nil {
		t.Fatalf("DecodePublicKey: %v", err)
	}
	if string(gotPub) != string(pub) {
		t.Fatal("public key round-trip mismatch")
	}
}

func TestDecodePublicKeyRejectsWrongSize(t *testing.T) {
	if _, err := DecodePublicKey("AA"); err == nil {
		t.Fatal("expected error for undersized key")
	}
}
