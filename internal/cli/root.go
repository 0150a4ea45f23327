// Package cli is the thin cobra command tree for cmd/myfsctl: argument
// parsing and secret prompting only, every operation is one call into
// internal/session or internal/volume (spec §6 CLI surface).
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hytong05/NT212-New-File-System/internal/kdfparams"
	"github.com/hytong05/NT212-New-File-System/internal/session"
	"github.com/hytong05/NT212-New-File-System/internal/volume"
)

// Exit codes per spec §6: 0 clean, 2 auth failed, 3 unrecoverable.
const (
	ExitOK            = 0
	ExitAuthFailed    = 2
	ExitUnrecoverable = 3
)

var (
	flagContainer string
	flagSidecar   string
	flagRebind    bool
)

var rootCmd = &cobra.Command{
	Use:   "myfsctl",
	Short: "Operate a single-user encrypted MyFS container",
}

// Execute runs the CLI and returns the process exit code to use.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagContainer, "container", "", "path to the .DRI container file")
	rootCmd.PersistentFlags().StringVar(&flagSidecar, "sidecar", "", "path to the .IXF sidecar file")
	rootCmd.PersistentFlags().BoolVar(&flagRebind, "rebind", false, "regenerate machine binding if it doesn't match this machine")
	_ = rootCmd.MarkPersistentFlagRequired("container")
	_ = rootCmd.MarkPersistentFlagRequired("sidecar")

	rootCmd.AddCommand(createCmd, passwdCmd, listCmd, secretCmd, importCmd, exportCmd,
		deleteCmd, recoverCmd, deletedCmd, purgeCmd, repairCmd)

	for _, cmd := range rootCmd.Commands() {
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
	}
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errorsIsAuthFailed(err):
		return ExitAuthFailed
	case errorsIsUnrecoverable(err):
		return ExitUnrecoverable
	default:
		fmt.Fprintln(os.Stderr, "myfsctl:", err)
		return 1
	}
}

func openSessionAndVolume(masterSecret string) (*session.Authenticator, *volume.Volume, error) {
	auth := session.New()
	sessionSecret, err := ReadSessionSecret()
	if err != nil {
		return nil, nil, err
	}
	if err := auth.OpenSession(sessionSecret, time.Now()); err != nil {
		return nil, nil, err
	}

	v, err := volume.Open(flagContainer, flagSidecar, masterSecret, volume.OpenOptions{Rebind: flagRebind})
	if err != nil {
		auth.Close()
		return nil, nil, err
	}
	if err := auth.AdmitVolume(nil); err != nil {
		v.Close()
		return nil, nil, err
	}
	return auth, v, nil
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Format a new volume (Create/Format)",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := ReadMasterSecret(true)
		if err != nil {
			return err
		}
		return volume.Format(flagContainer, flagSidecar, secret, kdfparams.DefaultParams())
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the volume's master secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		oldSecret, err := ReadMasterSecret(false)
		if err != nil {
			return err
		}
		auth, v, err := openSessionAndVolume(oldSecret)
		if err != nil {
			return err
		}
		defer auth.Close()
		defer v.Close()

		newSecret, err := ReadMasterSecret(true)
		if err != nil {
			return err
		}
		return v.ChangeMasterSecret(newSecret)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := ReadMasterSecret(false)
		if err != nil {
			return err
		}
		auth, v, err := openSessionAndVolume(secret)
		if err != nil {
			return err
		}
		defer auth.Close()
		defer v.Close()

		for _, e := range v.List(false) {
			fmt.Printf("%d\t%s\t%d bytes\t%s\n", e.ID, e.Name, e.OriginalSize, e.ImportedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var deletedCmd = &cobra.Command{
	Use:   "deleted",
	Short: "View soft-deleted and pending-purge entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := ReadMasterSecret(false)
		if err != nil {
			return err
		}
		auth, v, err := openSessionAndVolume(secret)
		if err != nil {
			return err
		}
		defer auth.Close()
		defer v.Close()

		for _, e := range v.List(true) {
			if e.State.String() == "active" {
				continue
			}
			fmt.Printf("%d\t%s\t%s\tdeleted %s\n", e.ID, e.Name, e.State, e.DeletedAt.Format(time.RFC3339))
		}
		return nil
	},
}
