package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hytong05/NT212-New-File-System/internal/volume"
)

var (
	flagName       string
	flagForce      bool
	flagRaw        bool
	flagInputPath  string
	flagOutputPath string
)

func init() {
	importCmd.Flags().StringVar(&flagName, "name", "", "name to store the imported file under")
	importCmd.Flags().StringVar(&flagInputPath, "in", "", "path of the plaintext file to import")
	_ = importCmd.MarkFlagRequired("name")
	_ = importCmd.MarkFlagRequired("in")

	exportCmd.Flags().StringVar(&flagName, "name", "", "name of the entry to export")
	exportCmd.Flags().StringVar(&flagOutputPath, "out", "", "path to write the decrypted plaintext to")
	exportCmd.Flags().BoolVar(&flagRaw, "raw", false, "export the raw salt-prefixed ciphertext instead of plaintext")
	_ = exportCmd.MarkFlagRequired("name")
	_ = exportCmd.MarkFlagRequired("out")

	secretCmd.Flags().StringVar(&flagName, "name", "", "name of the entry")
	secretCmd.Flags().BoolVar(&flagForce, "force", false, "change or clear the secret using only master-key authority")
	_ = secretCmd.MarkFlagRequired("name")

	deleteCmd.Flags().StringVar(&flagName, "name", "", "name of the entry to soft-delete")
	_ = deleteCmd.MarkFlagRequired("name")

	recoverCmd.Flags().StringVar(&flagName, "name", "", "name of the soft-deleted entry to recover")
	_ = recoverCmd.MarkFlagRequired("name")

	purgeCmd.Flags().StringVar(&flagName, "name", "", "if set, hard-delete this entry before purging")
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Set, change, or force-change a file's secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		masterSecret, err := ReadMasterSecret(false)
		if err != nil {
			return err
		}
		auth, v, err := openSessionAndVolume(masterSecret)
		if err != nil {
			return err
		}
		defer auth.Close()
		defer v.Close()

		newSecret, err := ReadFileSecret(true)
		if err != nil {
			return err
		}

		if flagForce {
			return v.ForceChangeFileSecret(flagName, newSecret)
		}

		entries := v.List(false)
		for _, e := range entries {
			if e.Name != flagName {
				continue
			}
			if !e.Protected {
				return v.SetFileSecret(flagName, newSecret)
			}
			break
		}
		oldSecret, err := ReadFileSecret(false)
		if err != nil {
			return err
		}
		return v.ChangeFileSecret(flagName, oldSecret, newSecret)
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a plaintext file into the volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		masterSecret, err := ReadMasterSecret(false)
		if err != nil {
			return err
		}
		auth, v, err := openSessionAndVolume(masterSecret)
		if err != nil {
			return err
		}
		defer auth.Close()
		defer v.Close()

		f, err := os.Open(flagInputPath)
		if err != nil {
			return err
		}
		defer f.Close()

		fileSecret, err := ReadFileSecret(true)
		if err != nil && err != ErrSecretEmpty {
			return err
		}

		_, err = v.Import(f, flagName, fileSecret)
		return err
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an entry's plaintext",
	RunE: func(cmd *cobra.Command, args []string) error {
		masterSecret, err := ReadMasterSecret(false)
		if err != nil {
			return err
		}
		auth, v, err := openSessionAndVolume(masterSecret)
		if err != nil {
			return err
		}
		defer auth.Close()
		defer v.Close()

		fileSecret, _ := ReadFileSecret(false)

		out, err := os.Create(flagOutputPath)
		if err != nil {
			return err
		}
		defer out.Close()

		mode := volume.ExportNormal
		if flagRaw {
			mode = volume.ExportRaw
		}
		return v.Export(flagName, fileSecret, out, mode)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Soft-delete an entry (Delete, not Hard-delete)",
	RunE: func(cmd *cobra.Command, args []string) error {
		masterSecret, err := ReadMasterSecret(false)
		if err != nil {
			return err
		}
		auth, v, err := openSessionAndVolume(masterSecret)
		if err != nil {
			return err
		}
		defer auth.Close()
		defer v.Close()
		return v.SoftDelete(flagName)
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Recover a soft-deleted entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		masterSecret, err := ReadMasterSecret(false)
		if err != nil {
			return err
		}
		auth, v, err := openSessionAndVolume(masterSecret)
		if err != nil {
			return err
		}
		defer auth.Close()
		defer v.Close()
		return v.Recover(flagName)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Reclaim space from pending-purge entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		masterSecret, err := ReadMasterSecret(false)
		if err != nil {
			return err
		}
		auth, v, err := openSessionAndVolume(masterSecret)
		if err != nil {
			return err
		}
		defer auth.Close()
		defer v.Close()

		if flagName != "" {
			if err := v.HardDelete(flagName); err != nil {
				return err
			}
		}
		report, err := v.Purge()
		if err != nil {
			return err
		}
		fmt.Printf("purged %d entries, reclaimed %d bytes\n", len(report.PurgedNames), report.BytesReclaimed)
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair a container/sidecar pair without a full open",
	RunE: func(cmd *cobra.Command, args []string) error {
		masterSecret, err := ReadMasterSecret(false)
		if err != nil {
			return err
		}
		report, err := volume.Repair(flagContainer, flagSidecar, masterSecret)
		if err != nil {
			return err
		}
		fmt.Printf("header rebuilt: %v, table rebuilt from sidecar: %v, lost entries: %v\n",
			report.ContainerHeaderRebuilt, report.TableRebuiltFromSidecar, report.LostEntries)
		return nil
	},
}
