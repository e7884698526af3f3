package scholar

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"patent-sync/config"
	"patent-sync/providers"
)

var profileIDRegex = regexp.MustCompile(`[?&]user=([^&#]+)`)

// ExtractProfileID liest die Profil-ID aus dem user=-Parameter einer Scholar-Profil-URL.
func ExtractProfileID(profileURL string) (string, error) {
	m := profileIDRegex.FindStringSubmatch(profileURL)
	if len(m) < 2 {
		return "", providers.ErrInvalidProfileURL
	}
	// Die ID wird roh zurückgegeben, BuildListURL kodiert sie genau einmal.
	id, err := url.QueryUnescape(m[1])
	if err != nil || strings.TrimSpace(id) == "" {
		return "", providers.ErrInvalidProfileURL
	}
	return id, nil
}

// BuildListURL baut die Werkliste eines Profils, gefiltert auf Patente.
func BuildListURL(baseURL, profileID string) string {
	return fmt.Sprintf("%s/citations?view_op=list_works&user=%s&mauthors=patent",
		strings.TrimRight(baseURL, "/"), url.QueryEscape(profileID))
}

// Page ist die rohe Listenseite eines Profils.
type Page struct {
	ProfileID string
	URL       string
	HTML      string
}

// Fetcher lädt Listenseiten von Google Scholar.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	Http   *resty.Client
}

// NewFetcher erstellt einen Fetcher mit Browser-User-Agent und Timeout aus der Konfiguration.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	userAgent := cfg.ScholarUserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	timeout := cfg.ScholarTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	client := resty.New()
	if cfg.ScholarCloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetHeader("User-Agent", userAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("Accept-Language", "en-US,en;q=0.9")
	client.SetTimeout(timeout)

	return &Fetcher{Config: cfg, Logger: logger, Http: client}
}

// Fetch holt die Patent-Liste für eine Profil-URL. Ein einziger GET, keine Wiederholungen.
func (f *Fetcher) Fetch(ctx context.Context, profileURL string) (*Page, error) {
	profileID, err := ExtractProfileID(profileURL)
	if err != nil {
		return nil, err
	}

	listURL := BuildListURL(f.Config.ScholarBaseURL, profileID)
	log := f.Logger.With(zap.String("profile_id", profileID), zap.String("url", listURL))
	log.Debug("Fetching scholar patent listing")

	res, err := f.Http.R().
		SetContext(ctx).
		Get(listURL)
	if err != nil {
		log.Warn("Scholar request failed", zap.Error(err))
		return nil, &providers.FetchError{URL: listURL, Err: err}
	}
	if !res.IsSuccess() {
		log.Warn("Scholar returned non-2xx status", zap.Int("status", res.StatusCode()))
		return nil, &providers.FetchError{
			URL:        listURL,
			StatusCode: res.StatusCode(),
			Err:        fmt.Errorf("unexpected status: %s", res.Status()),
		}
	}

	body := res.String()
	log.Debug("Scholar listing fetched", zap.Int("bytes", len(body)))
	return &Page{ProfileID: profileID, URL: listURL, HTML: body}, nil
}
