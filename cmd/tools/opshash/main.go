package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/noah-isme/printdesk/internal/security"
)

// opshash reads a password from stdin and prints the argon2id hash to use as
// OPS_BASIC_AUTH_HASH.
func main() {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintf(os.Stderr, "opshash: read password: %v\n", err)
		os.Exit(2)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		fmt.Fprintln(os.Stderr, "opshash: empty password")
		os.Exit(1)
	}
	hash, err := security.HashOpsPassword(password, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opshash: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(hash)
}
