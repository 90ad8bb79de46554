package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kokukuma/eudiw-verifier/internal/cryptoroot"
	"github.com/kokukuma/eudiw-verifier/internal/logfields"
	"github.com/kokukuma/eudiw-verifier/internal/server"
	"github.com/kokukuma/eudiw-verifier/internal/trustlist"
	"github.com/kokukuma/eudiw-verifier/openid4vp"
	"github.com/kokukuma/eudiw-verifier/validator"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eudiw-verifier",
		Short: "OpenID4VP verifier for the EUDI wallet PID",
		// main reports the error
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := getStartupParameters(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return startServer(cmd.Context(), params)
		},
	}
	createFlags(cmd)
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel
	return cfg.Build()
}

// loadSigningMaterial returns the request signing key and its chain, either
// parsed from PEM or generated for development.
func loadSigningMaterial(params *startupParameters) (*ecdsa.PrivateKey, *cryptoroot.Chain, error) {
	if params.devCerts {
		dnsName := params.clientID
		if params.clientIDScheme != openid4vp.ClientIDSchemeX509SanDNS {
			if u, err := url.Parse(params.serviceURL); err == nil {
				dnsName = u.Hostname()
			}
		}
		return cryptoroot.GenECDSAKeys(dnsName)
	}

	key, err := cryptoroot.ParsePrivateKeyPEM(params.privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load private key: %w", err)
	}
	chain, err := cryptoroot.ParseCertChainPEM(params.certChain)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load certificate chain: %w", err)
	}
	leafKey, ok := chain.Leaf().PublicKey.(*ecdsa.PublicKey)
	if !ok || !leafKey.Equal(&key.PublicKey) {
		return nil, nil, errors.New("private key does not match the leaf certificate")
	}
	return key, chain, nil
}

func startServer(parent context.Context, params *startupParameters) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := newLogger(params.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	key, chain, err := loadSigningMaterial(params)
	if err != nil {
		return err
	}
	identity, err := openid4vp.NewClientIdentity(params.clientIDScheme, params.clientID, chain)
	if err != nil {
		return err
	}
	if identity.Scheme == openid4vp.ClientIDSchemeX509SanDNS && !chain.HasDNSName(identity.ID) {
		logger.Warn("client id is not a DNS name of the signing certificate", logfields.WithClientID(identity.ID))
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := server.NewMetrics()

	trust := trustlist.New(params.trustListURL,
		trustlist.WithLogger(logger),
		trustlist.WithObserver(metrics.SetTrustListEntries),
	)
	trust.Load(ctx)
	go trust.Run(ctx, params.trustRefreshInterval)

	sessions := server.NewSessions(
		server.WithSessionTTL(params.sessionTTL),
		server.WithSessionLogger(logger),
	)
	go sessions.Run(ctx, params.sweepInterval)

	builder := openid4vp.NewBuilder(identity, params.serviceURL, key, chain,
		openid4vp.WithEncryptedResponse(params.encryptedResponse),
		openid4vp.WithMdoc(params.requestMdoc),
	)
	v := validator.New(identity, params.serviceURL, trust,
		validator.WithStrictTrust(params.strictTrust),
		validator.WithLogger(logger),
		validator.WithObserver(metrics.ObserveValidation),
	)
	srv := server.NewServer(sessions, builder, v,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
	)

	r := srv.Router()
	r.Use(handlers.CORS(
		handlers.AllowedMethods([]string{"POST", "GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"content-type"}),
		handlers.AllowedOrigins(params.allowedOrigins),
		handlers.AllowCredentials(),
	))

	httpServer := &http.Server{
		Addr: params.hostURL,
		Handler: handlers.RecoveryHandler(
			handlers.RecoveryLogger(zap.NewStdLog(logger)),
		)(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting verifier",
			logfields.WithURL(params.serviceURL),
			zap.String("address", params.hostURL),
			logfields.WithClientID(identity.ID),
			logfields.WithMode(builder.ResponseMode()),
			zap.Strings("credentials", builder.Query().CredentialIDs()),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
