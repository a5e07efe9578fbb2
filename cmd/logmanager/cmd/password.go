package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/sushazhi/fnos-logmanager/credential"
	"github.com/sushazhi/fnos-logmanager/internal/config"
	bboltstorage "github.com/sushazhi/fnos-logmanager/storage/bbolt"
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Manage the admin password",
	Long: `Set or reset the admin password from the command line. The new password is
read from the first line of standard input. Stop the server first: the
credential database is locked while it runs.`,
}

var passwordSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the admin password if none is configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCredentials(cmd, func(store *credential.Store, pw string) error {
			if err := store.Setup(cmd.Context(), pw); err != nil {
				if errors.Is(err, credential.ErrAlreadyInitialized) {
					return fmt.Errorf("%w; use 'password reset' to overwrite it", err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Admin password set.")
			return nil
		})
	},
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Overwrite the admin password without the current one",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCredentials(cmd, func(store *credential.Store, pw string) error {
			if err := store.Reset(cmd.Context(), pw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Admin password reset. Existing sessions end when the server restarts.")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(passwordCmd)
	passwordCmd.AddCommand(passwordSetCmd, passwordResetCmd)
}

// withCredentials opens the credential database, reads the new password
// and hands both to fn.
func withCredentials(cmd *cobra.Command, fn func(*credential.Store, string) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pw, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	store := credential.NewStore(repo, credential.WithLogger(newLogger(cfg)))
	if _, err := store.ImportFile(cmd.Context(), cfg.PasswordFile()); err != nil {
		return err
	}
	return fn(store, pw)
}

func openRepository(cfg *config.Config) (*bboltstorage.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(cfg.DatabaseFile(), &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("credential database %s is in use; stop the server first", cfg.DatabaseFile())
		}
		return nil, fmt.Errorf("failed to open credential storage: %w", err)
	}
	return repo, nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("no password given on standard input")
	}
	return pw, nil
}
