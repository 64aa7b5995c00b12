package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apiclient"
	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/chain"
	"github.com/Abdullah-AboOun/CertifyChain/internal/journal"
	"github.com/Abdullah-AboOun/CertifyChain/internal/metrics"
	"github.com/Abdullah-AboOun/CertifyChain/internal/reconcile"
	"github.com/Abdullah-AboOun/CertifyChain/internal/service"
	"github.com/Abdullah-AboOun/CertifyChain/internal/telemetry"
	"github.com/Abdullah-AboOun/CertifyChain/internal/wallet"
)

// walletSession is a signed-in client with a flow bound to the wallet
type walletSession struct {
	flow    *reconcile.Flow
	api     *apiclient.Client
	session reconcile.Session
	close   func()
}

func (a *app) openSession(ctx context.Context) (*walletSession, error) {
	cfg, logger := a.cfg, a.logger
	if err := cfg.ValidateWallet(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateChain(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	w, err := wallet.FromConfig(cfg.Wallet)
	if err != nil {
		return nil, err
	}
	session, err := reconcile.NewSession(w.RequestAccounts()[0].Hex())
	if err != nil {
		return nil, err
	}

	client, err := apiclient.New(cfg.Client, logger)
	if err != nil {
		return nil, err
	}
	if err := client.SignIn(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	m := metrics.New()
	registry, err := chain.Dial(ctx, cfg.Chain, w, m, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain: %w", err)
	}

	j, err := journal.Open(cfg.Client.JournalPath, logger)
	if err != nil {
		registry.Close()
		return nil, err
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, programName, version)
	if err != nil {
		_ = j.Close()
		registry.Close()
		return nil, err
	}

	logger.Debug("Session opened", zap.String("wallet", session.Owner()))
	return &walletSession{
		flow:    reconcile.New(registry, client, j, m, logger),
		api:     client,
		session: session,
		close: func() {
			if err := j.Close(); err != nil {
				logger.Warn("Failed to close journal", zap.Error(err))
			}
			registry.Close()
			logger.Debug("Session metrics",
				zap.Any("chain_calls", m.Counters("chain_calls_total")),
				zap.Any("outcomes", m.Counters("reconcile_outcomes_total")),
			)
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Warn("Failed to flush traces", zap.Error(err))
			}
		},
	}, nil
}

// runFlow opens a session, runs op and prints its outcomes as JSON. An
// incomplete outcome makes the command fail after printing.
func (a *app) runFlow(cmd *cobra.Command, op func(context.Context, *walletSession) ([]*reconcile.Outcome, error)) error {
	ctx := cmd.Context()
	ws, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer ws.close()

	outcomes, err := op(ctx, ws)
	if len(outcomes) > 0 {
		if perr := printJSON(cmd.OutOrStdout(), outcomes); perr != nil {
			return errors.Join(err, perr)
		}
	}
	printHints(cmd.ErrOrStderr(), outcomes, err)
	return err
}

// printHints tells the user how to finish what op left behind: journaled
// outcomes need retry, a transient failure with nothing journaled can simply
// be run again.
func printHints(w io.Writer, outcomes []*reconcile.Outcome, err error) {
	journaled := false
	for _, out := range outcomes {
		if out.Retryable() {
			journaled = true
			fmt.Fprintf(w, "operation %s is journaled as %s; run `%s retry` to finish it\n", out.Op, out.JournalID, programName)
		}
	}
	if !journaled && apperr.Retryable(err) {
		fmt.Fprintln(w, "nothing was written; the failure looks transient, run the command again")
	}
}

func single(out *reconcile.Outcome, err error) ([]*reconcile.Outcome, error) {
	if out == nil {
		return nil, err
	}
	return []*reconcile.Outcome{out}, err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func registerCommand(a *app) *cobra.Command {
	req := &service.CreateEntityRequest{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the wallet as an issuing entity on the registry and in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFlow(cmd, func(ctx context.Context, ws *walletSession) ([]*reconcile.Outcome, error) {
				return single(ws.flow.Register(ctx, ws.session, req))
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "Entity name")
	f.StringVar(&req.Description, "description", "", "Entity description")
	f.StringVar(&req.OrganizationType, "org-type", "", "Organization type")
	f.StringVar(&req.Country, "country", "", "Country")
	f.StringVar(&req.Website, "website", "", "Website URL")
	f.StringVar(&req.Email, "email", "", "Contact email")
	f.StringVar(&req.Phone, "phone", "", "Contact phone")
	f.StringVar(&req.Address, "address", "", "Postal address")
	f.StringVar(&req.RegistrationNumber, "registration-number", "", "Registration number")
	f.StringVar(&req.TaxID, "tax-id", "", "Tax identifier")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func issueCommand(a *app) *cobra.Command {
	req := &service.CreateCertificateRequest{}
	var document string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a certificate: store it, then anchor its hash on the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFlow(cmd, func(ctx context.Context, ws *walletSession) ([]*reconcile.Outcome, error) {
				if document != "" {
					url, err := uploadDocument(ctx, ws.api, document)
					if err != nil {
						return nil, err
					}
					req.DocumentURL = url
				}
				return single(ws.flow.Issue(ctx, ws.session, req))
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.RecipientName, "recipient", "", "Recipient name")
	f.StringVar(&req.RecipientEmail, "email", "", "Recipient email")
	f.StringVar(&req.Description, "description", "", "Certificate description, also stored on-chain as metadata")
	f.StringVar(&req.DocumentURL, "document-url", "", "URL of an already uploaded document")
	f.StringVar(&document, "document", "", "Image file to upload as the certificate document")
	_ = cmd.MarkFlagRequired("recipient")
	cmd.MarkFlagsMutuallyExclusive("document", "document-url")
	return cmd
}

func uploadDocument(ctx context.Context, client *apiclient.Client, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()
	return client.Upload(ctx, filepath.Base(path), f)
}

func certificateArg(args []string) (uint, error) {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid certificate id %q", args[0])
	}
	return uint(id), nil
}

func resumeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <certificate-id>",
		Short: "Anchor a stored certificate whose chain write failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := certificateArg(args)
			if err != nil {
				return err
			}
			return a.runFlow(cmd, func(ctx context.Context, ws *walletSession) ([]*reconcile.Outcome, error) {
				return single(ws.flow.ResumeIssue(ctx, ws.session, id))
			})
		},
	}
}

func revokeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <certificate-id>",
		Short: "Revoke a certificate on the registry and in the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := certificateArg(args)
			if err != nil {
				return err
			}
			return a.runFlow(cmd, func(ctx context.Context, ws *walletSession) ([]*reconcile.Outcome, error) {
				return single(ws.flow.Revoke(ctx, ws.session, id))
			})
		},
	}
}

func retryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Finish journaled operations of the wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFlow(cmd, func(ctx context.Context, ws *walletSession) ([]*reconcile.Outcome, error) {
				outcomes, err := ws.flow.Retry(ctx, ws.session)
				if len(outcomes) == 0 && err == nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "nothing to retry")
				}
				return outcomes, err
			})
		},
	}
}

func (a *app) publicClient() (*apiclient.Client, error) {
	return apiclient.New(a.cfg.Client, a.logger)
}

func verifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <on-chain-id>",
		Short: "Verify a certificate against the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.publicClient()
			if err != nil {
				return err
			}
			result, err := client.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func feesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fees",
		Short: "Show the registration and issuance fees",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.publicClient()
			if err != nil {
				return err
			}
			fees, err := client.Fees(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), fees)
		},
	}
}

func entityCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "entity [wallet-address]",
		Short: "Show the registry entry of a wallet next to its stored entity",
		Long:  "Show the registry entry of a wallet next to its stored entity. Without an argument the configured wallet is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := a.entityAddress(args)
			if err != nil {
				return err
			}
			client, err := a.publicClient()
			if err != nil {
				return err
			}
			reg, err := client.Registry(cmd.Context(), address)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reg)
		},
	}
}

func (a *app) entityAddress(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if err := a.cfg.ValidateWallet(); err != nil {
		return "", fmt.Errorf("no wallet address given: %w", err)
	}
	w, err := wallet.FromConfig(a.cfg.Wallet)
	if err != nil {
		return "", err
	}
	return w.RequestAccounts()[0].Hex(), nil
}
