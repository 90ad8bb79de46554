// Command devcerts prints a development signing key and certificate chain as
// .env lines for the verifier.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kokukuma/eudiw-verifier/internal/cryptoroot"
	"github.com/kokukuma/eudiw-verifier/openid4vp"
)

const dnsNameFlagName = "dns-name"

func main() {
	cmd := &cobra.Command{
		Use:   "devcerts",
		Short: "Generate PRIVATE_KEY and CERT_CHAIN values for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			dnsName, err := cmd.Flags().GetString(dnsNameFlagName)
			if err != nil {
				return err
			}
			return writeEnv(cmd.OutOrStdout(), dnsName)
		},
	}
	cmd.Flags().String(dnsNameFlagName, "localhost", "DNS SAN of the leaf certificate, used as CLIENT_ID for x509_san_dns.")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func writeEnv(w io.Writer, dnsName string) error {
	key, chain, err := cryptoroot.GenECDSAKeys(dnsName)
	if err != nil {
		return err
	}
	keyPEM, err := cryptoroot.EncodePrivateKeyPEM(key)
	if err != nil {
		return err
	}
	identity, err := openid4vp.NewClientIdentity(openid4vp.ClientIDSchemeX509Hash, "", chain)
	if err != nil {
		return err
	}

	escape := func(s string) string {
		return strings.ReplaceAll(strings.TrimSpace(s), "\n", `\n`)
	}
	fmt.Fprintf(w, "PRIVATE_KEY=\"%s\"\n", escape(keyPEM))
	fmt.Fprintf(w, "CERT_CHAIN=\"%s\"\n", escape(cryptoroot.EncodeChainPEM(chain)))
	fmt.Fprintf(w, "# x509_hash client_id: %s\n", identity.ID)
	return nil
}
