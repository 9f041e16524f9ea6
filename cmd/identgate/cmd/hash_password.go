package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ident-Gate/Identgate/internal/domain/token"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Generate a password verifier for seeding users",
	Long: `Generate an Argon2id verifier for a password.

The output can be used as the password_verifier column when seeding
users directly into the record store.

Example:
  identgate hash-password "s3cret"
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...

Security note: The password will appear in shell history.
Consider using an environment variable:
  identgate hash-password "$MY_PASSWORD"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verifier, err := token.HashPassword(args[0])
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		fmt.Println(verifier)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
