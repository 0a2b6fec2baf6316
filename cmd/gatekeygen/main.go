// Command gatekeygen generates an ed25519 signing keypair for a gate
// operator to install as a UNIPLEX_SIGNING_KEY_<KEY_ID> secret for receipt
// signing, or to register with the authority API as an issuer
// public key. It prints the private key as hex (the form cmd/gate's
// ed25519KeyFromEnv expects) and the public key in both hex and base64url.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	sharedcrypto "github.com/uniplex/gate/internal/shared/crypto"
)

func main() {
	keyID := flag.String("key-id", "", "key id to print alongside the generated material (informational only)")
	flag.Parse()

	pub, priv, err := sharedcrypto.GenerateEd25519Key()
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate key:", err)
		os.Exit(1)
	}

	if *keyID != "" {
		fmt.Printf("key_id: %s\n", *keyID)
	}
	fmt.Printf("private_key_hex: %s\n", hex.EncodeToString(priv))
	fmt.Printf("public_key_hex: %s\n", hex.EncodeToString(pub))
	fmt.Printf("public_key_base64url: %s\n", sharedcrypto.EncodePublicKey(pub))
	fmt.Println()
	fmt.Println("Set UNIPLEX_SIGNING_KEY_<KEY_ID>=<private_key_hex> on the gate process,")
	fmt.Println("and register public_key_hex with the authority API as this issuer's key.")
}
