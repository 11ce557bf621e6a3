package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// AuthCmd groups account commands.
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the account this device syncs as",
	Long:  `Register an account, log in and log out.`,
}

func readLogin() (string, error) {
	fmt.Print("Login: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login: %w", err)
	}
	login := strings.TrimSpace(line)
	if login == "" {
		return "", fmt.Errorf("login must not be empty")
	}
	return login, nil
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}
