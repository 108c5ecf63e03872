package crypto

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

func TestSignAndRecover(t *testing.T) {
	key, err := PrivateKeyFromSeed("alice")
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	signer, err := NewLocalSigner(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	payload := []byte("balance proof payload")
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("unexpected signature length %d", len(sig))
	}
	if v := sig[SignatureLength-1]; v != 27 && v != 28 {
		t.Fatalf("expected v in {27,28}, got %d", v)
	}
	addr, err := RecoverSigner(payload, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if addr != signer.Address() {
		t.Fatalf("recovered %s, want %s", addr.Hex(), signer.Address().Hex())
	}

	other, err := RecoverSigner([]byte("tampered payload"), sig)
	if err == nil && other == signer.Address() {
		t.Fatalf("tampered payload must not recover the signer")
	}
}

func TestRecoverRejectsMalformedSignature(t *testing.T) {
	if _, err := RecoverSigner([]byte("x"), []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short signature")
	}
	bad := make([]byte, SignatureLength)
	bad[SignatureLength-1] = 40
	if _, err := RecoverSigner([]byte("x"), bad); err == nil {
		t.Fatalf("expected error for invalid recovery id")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	restore := KeystoreScrypt
	KeystoreScrypt.N, KeystoreScrypt.P = keystore.LightScryptN, keystore.LightScryptP
	t.Cleanup(func() { KeystoreScrypt = restore })

	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "node.key")
	if err := SaveToKeystore(path, key, "passphrase"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "passphrase")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("address mismatch after reload")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}

	again, created, err := LoadOrCreateKeystore(path, "passphrase")
	if err != nil || created {
		t.Fatalf("expected existing key to load, created=%v err=%v", created, err)
	}
	if again.Address() != key.Address() {
		t.Fatalf("LoadOrCreateKeystore returned a different key")
	}
}
