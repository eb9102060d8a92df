package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/talkgate/internal/adminauth"
)

const minPasswordLen = 8

func hashPasswordCmd() *cobra.Command {
	var stdin bool
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Generate a bcrypt hash for TALKGATE_ADMIN_PASSWORD_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if stdin {
				data, err := io.ReadAll(io.LimitReader(os.Stdin, 1024))
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				password = strings.TrimRight(string(data), "\r\n")
			} else {
				var err error
				if password, err = promptPassword(); err != nil {
					return err
				}
			}
			if err := checkPassword(password); err != nil {
				return err
			}
			hash, err := adminauth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&stdin, "stdin", false, "read the password from stdin instead of prompting")
	return cmd
}

func checkPassword(p string) error {
	if len([]rune(p)) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	return nil
}

func promptPassword() (string, error) {
	var password, confirm string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Admin password").
				EchoMode(huh.EchoModePassword).
				Validate(checkPassword).
				Value(&password),
			huh.NewInput().
				Title("Confirm password").
				EchoMode(huh.EchoModePassword).
				Value(&confirm),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}
