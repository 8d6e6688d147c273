package solark

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured registers the solark-* flags and returns a Client that is
// initialized once flags are parsed.
func Configured() *Client {
	username := lflag.String("solark-username", "", "Sol-Ark cloud account username")
	password := lflag.String("solark-password", "", "Sol-Ark cloud account password")
	plantID := lflag.String("solark-plant-id", "", "Sol-Ark plant ID to monitor")
	baseURL := lflag.String("solark-base-url", DefaultBaseURL, "Sol-Ark web app URL sent as Origin/Referer")
	apiURL := lflag.String("solark-api-url", DefaultAPIURL, "Sol-Ark cloud API URL")
	legacyURL := lflag.String("solark-legacy-login-url", DefaultLegacyLoginURL, "Sol-Ark legacy login endpoint")
	pendingTTL := lflag.Duration("solark-pending-ttl", DefaultPendingTTL, "How long written settings are shown before the cloud confirms them")

	c := &Client{}
	lflag.Do(func() {
		cfg := Config{
			Username:       *username,
			Password:       *password,
			PlantID:        *plantID,
			BaseURL:        *baseURL,
			APIURL:         *apiURL,
			LegacyLoginURL: *legacyURL,
			PendingTTL:     *pendingTTL,
		}
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("solark validation failed: %v", err))
		}
		c.init(cfg)
	})
	return c
}
