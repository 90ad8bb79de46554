package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ory/go-convenience/stringslice"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/kokukuma/eudiw-verifier/internal/server"
	"github.com/kokukuma/eudiw-verifier/internal/trustlist"
	"github.com/kokukuma/eudiw-verifier/openid4vp"
)

const (
	commonEnvVarUsageText = " Alternatively, this can be set with the following environment variable: "

	hostURLFlagName  = "host-url"
	hostURLEnvKey    = "HOST_URL"
	hostURLFlagUsage = "Address to listen on. Format: HostName:Port. Defaults to 0.0.0.0:3001, or 0.0.0.0:$PORT when PORT is set." +
		commonEnvVarUsageText + hostURLEnvKey
	portEnvKey     = "PORT"
	defaultHostURL = "0.0.0.0:3001"

	serviceURLFlagName  = "service-url"
	serviceURLEnvKey    = "SERVICE_URL"
	serviceURLFlagUsage = "External base URL of this service, used for request and response URIs." +
		" Defaults to http://localhost:<port>." + commonEnvVarUsageText + serviceURLEnvKey

	clientIDSchemeFlagName  = "client-id-scheme"
	clientIDSchemeEnvKey    = "CLIENT_ID_SCHEME"
	clientIDSchemeFlagUsage = "Client identifier scheme. Possible values [x509_hash] [x509_san_dns]. Defaults to x509_hash." +
		commonEnvVarUsageText + clientIDSchemeEnvKey

	clientIDFlagName  = "client-id"
	clientIDEnvKey    = "CLIENT_ID"
	clientIDFlagUsage = "Static client identifier, required for x509_san_dns." +
		commonEnvVarUsageText + clientIDEnvKey

	privateKeyFlagName  = "private-key"
	privateKeyEnvKey    = "PRIVATE_KEY"
	privateKeyFlagUsage = "PEM encoded ES256 request signing key (PKCS#8 or SEC 1)." +
		commonEnvVarUsageText + privateKeyEnvKey

	certChainFlagName  = "cert-chain"
	certChainEnvKey    = "CERT_CHAIN"
	certChainFlagUsage = "PEM encoded certificate chain of the signing key, leaf first." +
		commonEnvVarUsageText + certChainEnvKey

	devCertsFlagName  = "dev-certs"
	devCertsEnvKey    = "DEV_CERTS"
	devCertsFlagUsage = "Generate an in-memory development certificate chain instead of loading one." +
		" Possible values [true] [false]. Defaults to false." + commonEnvVarUsageText + devCertsEnvKey

	trustListURLFlagName  = "trust-list-url"
	trustListURLEnvKey    = "TRUST_LIST_URL"
	trustListURLFlagUsage = "Base URL serving pid-provider.jwt and wallet-provider.jwt." +
		commonEnvVarUsageText + trustListURLEnvKey

	strictTrustFlagName  = "strict-trust"
	strictTrustEnvKey    = "STRICT_TRUST"
	strictTrustFlagUsage = "Reject presentations when a trust list is empty." +
		" Possible values [true] [false]. Defaults to false." + commonEnvVarUsageText + strictTrustEnvKey

	encryptedResponseFlagName  = "encrypted-response"
	encryptedResponseEnvKey    = "ENCRYPTED_RESPONSE"
	encryptedResponseFlagUsage = "Ask wallets for direct_post.jwt encrypted responses." +
		" Possible values [true] [false]. Defaults to true." + commonEnvVarUsageText + encryptedResponseEnvKey

	requestMdocFlagName  = "request-mdoc"
	requestMdocEnvKey    = "REQUEST_MDOC"
	requestMdocFlagUsage = "Offer the mso_mdoc PID as an alternative credential." +
		" Possible values [true] [false]. Defaults to false." + commonEnvVarUsageText + requestMdocEnvKey

	allowedOriginsFlagName  = "allowed-origins"
	allowedOriginsEnvKey    = "ALLOWED_ORIGINS"
	allowedOriginsFlagUsage = "Comma-separated list of CORS origins. Defaults to http://localhost:3000." +
		commonEnvVarUsageText + allowedOriginsEnvKey
	defaultAllowedOrigin = "http://localhost:3000"

	sessionTTLFlagName  = "session-ttl"
	sessionTTLEnvKey    = "SESSION_TTL"
	sessionTTLFlagUsage = "Session lifetime. Defaults to 10m." + commonEnvVarUsageText + sessionTTLEnvKey

	sweepIntervalFlagName  = "sweep-interval"
	sweepIntervalEnvKey    = "SWEEP_INTERVAL"
	sweepIntervalFlagUsage = "Period of the expired session sweep. Defaults to 1m." +
		commonEnvVarUsageText + sweepIntervalEnvKey

	trustRefreshIntervalFlagName  = "trust-refresh-interval"
	trustRefreshIntervalEnvKey    = "TRUST_REFRESH_INTERVAL"
	trustRefreshIntervalFlagUsage = "How often the trust list age is checked. Defaults to 1h." +
		commonEnvVarUsageText + trustRefreshIntervalEnvKey
	defaultTrustRefreshInterval = time.Hour

	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "LOG_LEVEL"
	logLevelFlagUsage = "Logging level. Possible values [debug] [info] [warn] [error]. Defaults to info." +
		commonEnvVarUsageText + logLevelEnvKey
)

type startupParameters struct {
	hostURL              string
	serviceURL           string
	clientIDScheme       string
	clientID             string
	privateKey           string
	certChain            string
	devCerts             bool
	trustListURL         string
	strictTrust          bool
	encryptedResponse    bool
	requestMdoc          bool
	allowedOrigins       []string
	sessionTTL           time.Duration
	sweepInterval        time.Duration
	trustRefreshInterval time.Duration
	logLevel             string
}

func createFlags(cmd *cobra.Command) {
	for _, f := range []struct{ name, usage string }{
		{hostURLFlagName, hostURLFlagUsage},
		{serviceURLFlagName, serviceURLFlagUsage},
		{clientIDSchemeFlagName, clientIDSchemeFlagUsage},
		{clientIDFlagName, clientIDFlagUsage},
		{privateKeyFlagName, privateKeyFlagUsage},
		{certChainFlagName, certChainFlagUsage},
		{devCertsFlagName, devCertsFlagUsage},
		{trustListURLFlagName, trustListURLFlagUsage},
		{strictTrustFlagName, strictTrustFlagUsage},
		{encryptedResponseFlagName, encryptedResponseFlagUsage},
		{requestMdocFlagName, requestMdocFlagUsage},
		{allowedOriginsFlagName, allowedOriginsFlagUsage},
		{sessionTTLFlagName, sessionTTLFlagUsage},
		{sweepIntervalFlagName, sweepIntervalFlagUsage},
		{trustRefreshIntervalFlagName, trustRefreshIntervalFlagUsage},
		{logLevelFlagName, logLevelFlagUsage},
	} {
		cmd.Flags().String(f.name, "", f.usage)
	}
}

func getStartupParameters(cmd *cobra.Command) (*startupParameters, error) {
	var err error
	params := &startupParameters{}

	params.hostURL = getUserSetVar(cmd, hostURLFlagName, hostURLEnvKey)
	if params.hostURL == "" {
		params.hostURL = defaultHostURL
		if port := os.Getenv(portEnvKey); port != "" {
			params.hostURL = "0.0.0.0:" + port
		}
	}

	params.serviceURL = strings.TrimSuffix(getUserSetVar(cmd, serviceURLFlagName, serviceURLEnvKey), "/")
	if params.serviceURL == "" {
		_, port, err := net.SplitHostPort(params.hostURL)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", hostURLFlagName, err)
		}
		params.serviceURL = "http://localhost:" + port
	}

	params.clientIDScheme = getUserSetVarOrDefault(cmd, clientIDSchemeFlagName, clientIDSchemeEnvKey,
		openid4vp.ClientIDSchemeX509Hash)
	params.clientID = getUserSetVar(cmd, clientIDFlagName, clientIDEnvKey)
	switch params.clientIDScheme {
	case openid4vp.ClientIDSchemeX509Hash:
	case openid4vp.ClientIDSchemeX509SanDNS:
		if params.clientID == "" {
			return nil, fmt.Errorf("%s is required for %s", clientIDFlagName, openid4vp.ClientIDSchemeX509SanDNS)
		}
	default:
		return nil, fmt.Errorf("unsupported %s: %q", clientIDSchemeFlagName, params.clientIDScheme)
	}

	params.privateKey = getUserSetVar(cmd, privateKeyFlagName, privateKeyEnvKey)
	params.certChain = getUserSetVar(cmd, certChainFlagName, certChainEnvKey)

	if params.devCerts, err = getBool(cmd, devCertsFlagName, devCertsEnvKey, false); err != nil {
		return nil, err
	}
	if !params.devCerts && (params.privateKey == "" || params.certChain == "") {
		return nil, errors.New("signing key and certificate chain are required: set " +
			privateKeyEnvKey + " and " + certChainEnvKey + ", or " + devCertsEnvKey + "=true")
	}

	params.trustListURL = strings.TrimSuffix(
		getUserSetVarOrDefault(cmd, trustListURLFlagName, trustListURLEnvKey, trustlist.DefaultBaseURL), "/")

	if params.strictTrust, err = getBool(cmd, strictTrustFlagName, strictTrustEnvKey, false); err != nil {
		return nil, err
	}
	if params.encryptedResponse, err = getBool(cmd, encryptedResponseFlagName, encryptedResponseEnvKey, true); err != nil {
		return nil, err
	}
	if params.requestMdoc, err = getBool(cmd, requestMdocFlagName, requestMdocEnvKey, false); err != nil {
		return nil, err
	}

	params.allowedOrigins = parseOrigins(getUserSetVar(cmd, allowedOriginsFlagName, allowedOriginsEnvKey))

	if params.sessionTTL, err = getDuration(cmd, sessionTTLFlagName, sessionTTLEnvKey, server.DefaultSessionTTL); err != nil {
		return nil, err
	}
	if params.sweepInterval, err = getDuration(cmd, sweepIntervalFlagName, sweepIntervalEnvKey, server.DefaultSweepInterval); err != nil {
		return nil, err
	}
	if params.trustRefreshInterval, err = getDuration(cmd, trustRefreshIntervalFlagName,
		trustRefreshIntervalEnvKey, defaultTrustRefreshInterval); err != nil {
		return nil, err
	}

	params.logLevel = getUserSetVarOrDefault(cmd, logLevelFlagName, logLevelEnvKey, "info")

	return params, nil
}

// getUserSetVar returns the flag value when set on the command line, else
// the environment variable.
func getUserSetVar(cmd *cobra.Command, flagName, envKey string) string {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err == nil {
			return value
		}
	}
	return os.Getenv(envKey)
}

func getUserSetVarOrDefault(cmd *cobra.Command, flagName, envKey, defaultValue string) string {
	if value := getUserSetVar(cmd, flagName, envKey); value != "" {
		return value
	}
	return defaultValue
}

func getBool(cmd *cobra.Command, flagName, envKey string, defaultValue bool) (bool, error) {
	value := getUserSetVar(cmd, flagName, envKey)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %w", flagName, err)
	}
	return b, nil
}

func getDuration(cmd *cobra.Command, flagName, envKey string, defaultValue time.Duration) (time.Duration, error) {
	value := getUserSetVar(cmd, flagName, envKey)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", flagName, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", flagName)
	}
	return d, nil
}

func parseOrigins(value string) []string {
	origins := stringslice.Unique(stringslice.TrimSpaceEmptyFilter(
		lo.Map(strings.Split(value, ","), func(o string, _ int) string {
			return strings.TrimSuffix(strings.TrimSpace(o), "/")
		}),
	))
	if len(origins) == 0 {
		return []string{defaultAllowedOrigin}
	}
	return origins
}
