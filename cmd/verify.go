package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/talkgate/internal/config"
	"github.com/nextlevelbuilder/talkgate/internal/providers"
)

// providerVerifyError holds the result of a provider connectivity check.
type providerVerifyError struct {
	fatal   bool // bad credentials
	message string
}

func (e *providerVerifyError) Error() string { return e.message }

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Send a one-token request to the configured model API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if cfg.Provider.APIKey == "" {
				return errors.New("TALKGATE_OPENAI_API_KEY is not set")
			}
			fmt.Printf("  %s (%s): ", cfg.Provider.APIBase, cfg.Provider.Model)
			if verr := verifyProviderConnectivity(cmd.Context(), newProvider(cfg)); verr != nil {
				fmt.Println("FAILED")
				fmt.Fprintf(os.Stderr, "  %s\n", verr.message)
				if verr.fatal {
					return verr
				}
				return nil
			}
			fmt.Println("OK")
			return nil
		},
	}
}

// verifyProviderConnectivity sends "hi" with max_tokens=1.
//   - 401/403 HTTPError: invalid API key (fatal)
//   - any other error:   warning
func verifyProviderConnectivity(ctx context.Context, prov providers.Provider) *providerVerifyError {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := prov.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
		Options:  map[string]interface{}{providers.OptMaxTokens: 1},
	})
	if err == nil {
		return nil
	}
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) && (httpErr.Status == http.StatusUnauthorized || httpErr.Status == http.StatusForbidden) {
		return &providerVerifyError{
			fatal:   true,
			message: fmt.Sprintf("%s returned %d: invalid API key", prov.Name(), httpErr.Status),
		}
	}
	return &providerVerifyError{message: fmt.Sprintf("%s: %s", prov.Name(), friendlyProviderError(err))}
}

// friendlyProviderError extracts a human-readable message from provider errors.
func friendlyProviderError(err error) string {
	msg := err.Error()

	// Try to extract "message" field from embedded JSON error blobs.
	if idx := strings.Index(msg, `"message"`); idx >= 0 {
		rest := msg[idx:]
		if start := strings.Index(rest, `:`); start >= 0 {
			rest = strings.TrimLeft(rest[start+1:], " ")
			if len(rest) > 0 && rest[0] == '"' {
				rest = rest[1:]
				if end := strings.Index(rest, `"`); end >= 0 && rest[:end] != "" {
					return rest[:end]
				}
			}
		}
	}
	if strings.Contains(msg, "{") {
		return "request rejected by provider"
	}
	return msg
}
