package grvt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"marketmux/config"
	"marketmux/internal/proxy"
	"marketmux/logger"
	"marketmux/models"
)

// Credentials carries the session GRVT hands back on login: the gravity
// cookie plus the account id header, both required on the stream handshake.
type Credentials struct {
	Cookie    string
	AccountID string
}

func httpClient(cfg config.GrvtConfig) *http.Client {
	client := &http.Client{Timeout: 10 * time.Second}
	if ep := proxy.FromSingleEnv(cfg.Proxy.SingleEnv); ep != nil {
		client.Transport = &http.Transport{Proxy: http.ProxyURL(ep.URL())}
	}
	return client
}

// Login exchanges the configured API key for a session. Returns nil
// credentials without error when no key is configured; the stream then
// connects unauthenticated and the venue decides what it serves.
func Login(ctx context.Context, cfg config.GrvtConfig) (*Credentials, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, nil
	}

	body, err := json.Marshal(map[string]string{"api_key": apiKey})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.LoginURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "rm=true;")

	resp, err := httpClient(cfg).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	creds := credentialsFromResponse(resp)
	if creds == nil {
		return nil, fmt.Errorf("login response missing gravity cookie or account id (status %d)", resp.StatusCode)
	}

	logger.GetLogger().WithComponent("grvt_reader").
		WithFields(logger.Fields{"account": creds.AccountID}).Info("logged in")
	return creds, nil
}

func credentialsFromResponse(resp *http.Response) *Credentials {
	accountID := resp.Header.Get("X-Grvt-Account-Id")
	var cookie string
	for _, c := range resp.Header.Values("Set-Cookie") {
		if strings.HasPrefix(c, "gravity=") {
			cookie = strings.SplitN(c, ";", 2)[0]
			break
		}
	}
	if cookie == "" || accountID == "" {
		return nil
	}
	return &Credentials{Cookie: cookie, AccountID: accountID}
}

// FetchInstruments discovers the instrument list via the venue's POST
// endpoint, falling back to the configured static list on any failure.
func FetchInstruments(ctx context.Context, cfg config.GrvtConfig) []string {
	log := logger.GetLogger().WithComponent("grvt_reader")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.InstrumentsURL, strings.NewReader("{}"))
	if err != nil {
		return cfg.FallbackMarkets
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient(cfg).Do(req)
	if err != nil {
		log.WithError(err).Warn("instrument discovery failed, using fallback list")
		return cfg.FallbackMarkets
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("instrument discovery failed, using fallback list")
		return cfg.FallbackMarkets
	}

	var payload models.GrvtInstruments
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.WithError(err).Warn("instrument discovery response unreadable, using fallback list")
		return cfg.FallbackMarkets
	}

	instruments := make([]string, 0, len(payload.Result))
	for _, r := range payload.Result {
		if r.Instrument != "" {
			instruments = append(instruments, r.Instrument)
		}
	}
	if len(instruments) == 0 {
		return cfg.FallbackMarkets
	}
	log.WithFields(logger.Fields{"instruments": len(instruments)}).Info("discovered instruments")
	return instruments
}
