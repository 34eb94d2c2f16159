package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/stemsi/exstem-station/internal/config"
	"github.com/stemsi/exstem-station/internal/service"
	"golang.org/x/term"
)

const minSecretLength = 6

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fmt.Fprintln(os.Stderr, "Error: hash-secret must be run from a terminal")
		os.Exit(1)
	}

	fmt.Println("=== Station Secret ===")

	// ─── CLI Input ─────────────────────────────────────────────────────
	fmt.Print("Enter Secret: ")
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error reading secret")
		os.Exit(1)
	}
	if len(secret) < minSecretLength {
		fmt.Fprintf(os.Stderr, "Error: Secret must be at least %d characters\n", minSecretLength)
		os.Exit(1)
	}

	fmt.Print("Repeat Secret: ")
	repeat, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil || !bytes.Equal(secret, repeat) {
		fmt.Fprintln(os.Stderr, "Error: Secrets do not match")
		os.Exit(1)
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	hash, err := service.HashSecret(string(secret), cfg.BcryptCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nAdd this line to the station's .env:\n\nSTATION_SECRET_HASH='%s'\n", hash)
}
