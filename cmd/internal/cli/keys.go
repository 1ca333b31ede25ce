package cli

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"teaminvite/cmd/security/adminkey"
	"teaminvite/cmd/security/sealer"
	"teaminvite/cmd/security/token"

	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate secrets for a new deployment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, k := range []struct {
				env string
				n   int
			}{
				{sealer.HashKeyEnv, 32},
				{sealer.BlockKeyEnv, 32},
				{token.HMACEnvKey, 48},
			} {
				v, err := randomBase64(k.n)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "export %s=%s\n", k.env, v)
			}
			return nil
		},
	}
	cmd.AddCommand(newHashKeyCmd())
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "hash-admin",
		Short: "Hash an admin API key for TEAMINVITE_ADMIN_KEY_HASH (reads stdin without --key)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				var err error
				if key, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			cfg, err := adminkey.FromEnv()
			if err != nil {
				return err
			}
			hash, err := cfg.Hash(key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export TEAMINVITE_ADMIN_KEY_HASH='%s'\n", hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "admin key to hash")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no key on stdin")
	}
	return line, nil
}

func randomBase64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
