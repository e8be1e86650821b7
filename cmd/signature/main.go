// Command signature prints the SS58 address derived from
// VALIDATOR_HOTKEY_MNEMONIC and runs a sign/verify self-check, so operators
// can confirm the configured hotkey before starting the validator.
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/tensorliq/lpvalidator/internal/signature"
)

func main() {
	_ = godotenv.Load()

	keypair, err := signature.NewKeypairFromMnemonic(os.Getenv("VALIDATOR_HOTKEY_MNEMONIC"))
	if err != nil {
		log.Fatalf("Failed to load hotkey: %v", err)
	}
	log.Printf("Hotkey address: %s", keypair.Address())

	message := []byte("lpvalidator hotkey self-check")
	sig, err := keypair.Sign(message)
	if err != nil {
		log.Fatalf("Failed to sign message: %v", err)
	}
	ok, err := signature.Verify(message, sig, keypair.Address())
	if err != nil {
		log.Fatalf("Failed to verify signature: %v", err)
	}
	log.Println("Signature valid:", ok)
}
