package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alfredjeanlab/aegis/internal/listener"
	"github.com/spf13/cobra"
)

var genCertCmd = &cobra.Command{
	Use:     "gen-cert",
	Short:   "Write a self-signed certificate and key for the device listener",
	GroupID: "server",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		hosts, _ := cmd.Flags().GetStringSlice("host")
		validFor, _ := cmd.Flags().GetDuration("valid-for")
		certFile, _ := cmd.Flags().GetString("cert")
		keyFile, _ := cmd.Flags().GetString("key")
		force, _ := cmd.Flags().GetBool("force")

		if err := writeSelfSigned(hosts, validFor, certFile, keyFile, force); err != nil {
			return err
		}
		fmt.Printf("Wrote %s and %s (valid for %s)\n", certFile, keyFile, validFor)
		return nil
	},
}

// writeSelfSigned generates a certificate for hosts and writes the PEM files.
// Existing files are left alone unless force is set.
func writeSelfSigned(hosts []string, validFor time.Duration, certFile, keyFile string, force bool) error {
	if !force {
		for _, path := range []string{certFile, keyFile} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("checking %s: %w", path, err)
			}
		}
	}

	certPEM, keyPEM, err := listener.GenerateSelfSigned(hosts, validFor)
	if err != nil {
		return err
	}

	for _, f := range []struct {
		path string
		data []byte
		mode os.FileMode
	}{
		{certFile, certPEM, 0o644},
		{keyFile, keyPEM, 0o600},
	} {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
		if err := os.WriteFile(f.path, f.data, f.mode); err != nil {
			return fmt.Errorf("write %s: %w", f.path, err)
		}
	}
	return nil
}

func init() {
	genCertCmd.Flags().StringSlice("host", []string{"localhost", "127.0.0.1"}, "DNS names or IPs the certificate is valid for")
	genCertCmd.Flags().Duration("valid-for", 365*24*time.Hour, "certificate lifetime")
	genCertCmd.Flags().String("cert", envOrDefault("AEGIS_CERT_FILE", "certs/cert.pem"), "certificate output path")
	genCertCmd.Flags().String("key", envOrDefault("AEGIS_KEY_FILE", "certs/key.pem"), "private key output path")
	genCertCmd.Flags().Bool("force", false, "overwrite existing files")
}
