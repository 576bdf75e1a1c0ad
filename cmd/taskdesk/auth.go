package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"taskdesk/internal/app"
	"taskdesk/internal/remote"
)

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--username required")
			}
			pw, err := passwordOrPrompt(password)
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *remote.Client) error {
				sess, err := c.Login(ctx, username, pw)
				if err != nil {
					return credentialsError(err)
				}
				return saveSession(sess)
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when empty)")
	return cmd
}

func registerCmd() *cobra.Command {
	var username, password, department string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a user account and log in as it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || department == "" {
				return fmt.Errorf("--username and --department required")
			}
			pw, err := passwordOrPrompt(password)
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *remote.Client) error {
				sess, err := c.Register(ctx, username, pw, department)
				if err != nil {
					return credentialsError(err)
				}
				return saveSession(sess)
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when empty)")
	cmd.Flags().StringVarP(&department, "department", "d", "", "department")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.TokenPath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			fmt.Println("logged out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the session account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				a := s.Account
				return printJSONOrText(a, fmt.Sprintf("%s (%s, %s)", a.Username, a.Role, a.Department))
			})
		},
	}
}

func withClient(ctx context.Context, fn func(context.Context, *remote.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c := remote.New(cfg.Client.BaseURL, "")
	c.Timeout = requestTimeout(cfg)
	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	return fn(callCtx, c)
}

func saveSession(sess remote.Session) error {
	path, err := app.TokenPath()
	if err != nil {
		return err
	}
	if err := app.SaveToken(path, sess.Token); err != nil {
		return err
	}
	a := sess.Account
	return printJSONOrText(a, fmt.Sprintf("logged in as %s (%s, %s)", a.Username, a.Role, a.Department))
}

// credentialsError keeps the server's message for login and registration
// failures, where a 401 means bad credentials rather than an expired session.
func credentialsError(err error) error {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return errors.New(apiErr.Message)
	}
	return err
}

func passwordOrPrompt(pw string) (string, error) {
	if pw != "" {
		return pw, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("password required")
	}
	return line, nil
}
