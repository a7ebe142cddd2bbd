package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/recall/internal/storage"
)

func buildBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, restore, and manage backups",
		Long: `Backups snapshot the metadata store, the vector store, and optionally
the document files into a timestamped artifact. Artifacts can be zipped
and sealed with the master key.`,
	}
	cmd.AddCommand(
		buildBackupCreateCmd(),
		buildBackupRestoreCmd(),
		buildBackupListCmd(),
		buildBackupDeleteCmd(),
		buildBackupCleanupCmd(),
	)
	return cmd
}

func buildBackupCreateCmd() *cobra.Command {
	var (
		configPath   string
		includeFiles bool
		compress     bool
		encrypt      bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			info, err := c.CreateBackup(cmd.Context(), storage.BackupOptions{
				IncludeFiles: includeFiles,
				Compress:     compress,
				Encrypt:      encrypt,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d bytes)\n", info.Name, info.Size)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVar(&includeFiles, "files", false, "Include the documents directory")
	cmd.Flags().BoolVar(&compress, "compress", false, "Produce a single .zip artifact")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Seal the artifact with the master key")
	return cmd
}

func buildBackupRestoreCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "restore [name]",
		Short: "Restore from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.RestoreBackup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildBackupListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			backups, err := c.ListBackups(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range backups {
				kind := "dir"
				if b.Encrypted {
					kind = "enc"
				} else if b.Zipped {
					kind = "zip"
				}
				fmt.Fprintf(out, "%s  %s  %10d bytes  %s\n",
					b.CreatedAt.Format("2006-01-02 15:04:05"), kind, b.Size, b.Name)
			}
			fmt.Fprintf(out, "%d backups\n", len(backups))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildBackupDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.DeleteBackup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildBackupCleanupCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Apply the configured retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			deleted, err := c.CleanupBackups(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d backups\n", deleted)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}
