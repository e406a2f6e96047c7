package main

import (
	"fmt"
	"os"

	"github.com/iplinks/iplinks-go/internal/util"
)

// Prints a value for IPLINKS_ENCRYPTION_KEY. With no argument a random key is
// generated; with a passphrase and hex salt, the derived key is printed.
func main() {
	switch len(os.Args) {
	case 1:
		key, err := util.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key)
	case 3:
		key, err := util.DeriveKey(os.Args[1], os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key)
	default:
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/gen-key.go [<passphrase> <salt-hex>]\n")
		os.Exit(1)
	}
}
