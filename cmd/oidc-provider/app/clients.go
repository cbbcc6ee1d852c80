package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	oidc "github.com/giantswarm/oidc-provider"
	"github.com/giantswarm/oidc-provider/security"
)

const clientTimeFormat = "2006-01-02 15:04:05Z07:00"

var errMemoryBackend = errors.New("client commands need a shared storage backend (redis or valkey)")

func newClientCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered OAuth clients",
		Long: `Manage registered OAuth clients in the configured storage backend.

A running provider loads clients at startup; restart it to pick up changes.`,
	}
	cmd.AddCommand(
		newClientRegisterCmd(opts),
		newClientRevokeCmd(opts),
		newClientUpdateCmd(opts),
		newClientListCmd(opts),
	)
	return cmd
}

// withProvider opens the configured provider for a one-shot admin command.
func withProvider(ctx context.Context, opts *rootOptions, fn func(*oidc.Provider) error) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	if cfg.Storage.Backend == backendMemory {
		return errMemoryBackend
	}

	provider, _, cleanup, err := openProvider(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(provider)
}

func newClientRegisterCmd(opts *rootOptions) *cobra.Command {
	var (
		name         string
		redirectURIs []string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a client and print its credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProvider(cmd.Context(), opts, func(p *oidc.Provider) error {
				resp, err := p.RegisterClient(cmd.Context(), name, redirectURIs)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Client name (must be unique)")
	cmd.Flags().StringSliceVar(&redirectURIs, "redirect-uri", nil, "Allowed redirect URI (repeatable)")
	_ = cmd.MarkFlagRequired("redirect-uri")
	return cmd
}

func newClientRevokeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke CLIENT_ID",
		Short: "Delete a client and its refresh tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd.Context(), opts, func(p *oidc.Provider) error {
				if err := p.RevokeClient(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return err
			})
		},
	}
}

func newClientUpdateCmd(opts *rootOptions) *cobra.Command {
	var redirectURIs []string
	cmd := &cobra.Command{
		Use:   "update CLIENT_ID",
		Short: "Replace the redirect URIs of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd.Context(), opts, func(p *oidc.Provider) error {
				info, err := p.UpdateClient(cmd.Context(), args[0], redirectURIs)
				if err != nil {
					return err
				}
				return printClients(cmd.OutOrStdout(), []oidc.ClientInfo{info})
			})
		},
	}
	cmd.Flags().StringSliceVar(&redirectURIs, "redirect-uri", nil, "Allowed redirect URI (repeatable)")
	_ = cmd.MarkFlagRequired("redirect-uri")
	return cmd
}

func newClientListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProvider(cmd.Context(), opts, func(p *oidc.Provider) error {
				clients, err := p.ListClients(cmd.Context())
				if err != nil {
					return err
				}
				return printClients(cmd.OutOrStdout(), clients)
			})
		},
	}
}

func printClients(out io.Writer, clients []oidc.ClientInfo) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENT ID\tNAME\tREDIRECT URIS\tCREATED")
	for _, c := range clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			c.ClientID, c.ClientName, strings.Join(c.RedirectURIs, ","), c.CreatedAt.UTC().Format(clientTimeFormat))
	}
	return tw.Flush()
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash for users[].password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hash, err := hashPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

func hashPassword(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func newGenerateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-key",
		Short: "Print a random base64 key for security.encryption_key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := security.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), security.KeyToBase64(key))
			return err
		},
	}
}
