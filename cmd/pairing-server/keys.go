package main

import (
	"flag"
	"fmt"

	"github.com/evvos/pairing/internal/auth"
	"github.com/evvos/pairing/internal/credcrypt"
)

func runHashServiceKey(args []string) error {
	fs := flag.NewFlagSet("hash-service-key", flag.ExitOnError)
	key := fs.String("key", "", "Device service key to hash")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *key == "" {
		return fmt.Errorf("--key is required")
	}

	hash, err := auth.HashServiceKey(*key)
	if err != nil {
		return err
	}

	fmt.Println("Add the following to your server application.yaml:")
	fmt.Println()
	fmt.Printf("pairing:\n")
	fmt.Printf("  service_key_hashes:\n")
	fmt.Printf("    - \"%s\"\n", hash)
	return nil
}

func runGenerateCredentialKey() error {
	key, err := credcrypt.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Println("Add the following to your server application.yaml:")
	fmt.Println()
	fmt.Printf("crypto:\n")
	fmt.Printf("  credential_key: \"%s\"\n", key)
	return nil
}
