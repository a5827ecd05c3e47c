package sigaa

import (
	"context"
	"fmt"
	"time"

	"sigaasync-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

// Probe checks that the portal's login page answers before a browser is
// launched for it. A failed probe saves the cost of a full browser
// startup on an unreachable portal.
func Probe(ctx context.Context, baseURL string) error {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := resty.New()
	client.SetTimeout(time.Second * 15)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	telemetry.InstrumentResty(client, "scrapers/sigaa/http")

	res, err := client.R().
		SetContext(ctx).
		Get(baseURL + "/verTelaLogin.do")
	if err != nil {
		return fmt.Errorf("portal inacessível: %w", err)
	}
	if res.StatusCode() >= 500 {
		return fmt.Errorf("portal respondeu com status %d", res.StatusCode())
	}
	return nil
}
