package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"contentcrush/cmd/internal/auth"

	"github.com/spf13/cobra"
)

var (
	flagEmail    string
	flagPassword string
	flagRemember bool
	flagName     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pw, err := resolvePassword()
		if err != nil {
			return err
		}

		u, err := runtime.Auth().Login(cmd.Context(), auth.LoginInput{
			Email:      flagEmail,
			Password:   pw,
			RememberMe: flagRemember,
		})
		if err != nil {
			return err
		}

		fmt.Printf("signed in as %s <%s>\n", u.Name, u.Email)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pw, err := resolvePassword()
		if err != nil {
			return err
		}

		u, err := runtime.Auth().Register(cmd.Context(), auth.RegisterInput{
			Name:     flagName,
			Email:    flagEmail,
			Password: pw,
		})
		if err != nil {
			return err
		}

		fmt.Printf("registered %s <%s>\n", u.Name, u.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session and clear stored tokens",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := runtime.Auth().Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("signed out")
		return nil
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the signed-in profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		u, err := runtime.Auth().Me(cmd.Context())
		if err != nil {
			return err
		}
		if u == nil {
			fmt.Println("not signed in")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(u)
	},
}

// resolvePassword prefers the flag, then CRUSH_PASSWORD, then one line from
// stdin. The flag is convenient in scripts; interactive use should pipe.
func resolvePassword() (string, error) {
	if flagPassword != "" {
		return flagPassword, nil
	}
	if pw := os.Getenv("CRUSH_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "password: ")
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return "", fmt.Errorf("no password provided")
	}
	return strings.TrimSpace(sc.Text()), nil
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&flagEmail, "email", "", "account email")
		c.Flags().StringVar(&flagPassword, "password", "", "account password (omit to read from env or stdin)")
		_ = c.MarkFlagRequired("email")
	}
	loginCmd.Flags().BoolVar(&flagRemember, "remember", false, "request a long-lived session")
	registerCmd.Flags().StringVar(&flagName, "name", "", "display name")
	_ = registerCmd.MarkFlagRequired("name")
}
