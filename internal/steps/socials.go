package steps

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/resilience"
	"github.com/cityhive/directory/pkg/jina"
)

// socialHosts maps hostname suffixes to the platform key stored on the entity.
var socialHosts = map[string]string{
	"instagram.com": "instagram",
	"facebook.com":  "facebook",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"tiktok.com":    "tiktok",
	"youtube.com":   "youtube",
	"linkedin.com":  "linkedin",
}

// DiscoverSocials finds an entity's social profiles. The homepage anchor tags
// are the primary source; a web search covers entities without a website.
type DiscoverSocials struct {
	http *http.Client
	jina jina.Client
}

// NewDiscoverSocials creates the social-discovery adapter.
func NewDiscoverSocials(hc *http.Client, j jina.Client) *DiscoverSocials {
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	return &DiscoverSocials{http: hc, jina: j}
}

// Execute implements engine.Adapter.
func (s *DiscoverSocials) Execute(ctx context.Context, entity model.Entity) (*engine.StepResult, error) {
	var socials map[string]string

	if entity.Website != "" {
		found, err := s.fromHomepage(ctx, entity.Website)
		if err != nil {
			zap.L().Warn("steps: homepage social scan failed",
				zap.String("entity", entity.ID),
				zap.Error(err),
			)
		}
		socials = found
	}

	if len(socials) == 0 && s.jina != nil {
		found, err := s.fromSearch(ctx, entity)
		if err != nil {
			return nil, eris.Wrap(err, "steps: social search")
		}
		socials = found
	}

	if len(socials) == 0 {
		return nil, engine.NewInputError("no social profiles found")
	}

	raw, err := json.Marshal(socials)
	if err != nil {
		return nil, eris.Wrap(err, "steps: marshal socials")
	}
	return &engine.StepResult{
		Patch:  model.EntityPatch{Socials: socials},
		Raw:    raw,
		Digest: contentDigest(raw),
	}, nil
}

// fromHomepage parses the entity's homepage and collects outbound links to
// known social platforms.
func (s *DiscoverSocials) fromHomepage(ctx context.Context, site string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, site, nil)
	if err != nil {
		return nil, eris.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; directory-bot/1.0)")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetch homepage"), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("homepage status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "parse homepage")
	}

	socials := make(map[string]string)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		platform, ok := classifySocialURL(href)
		if !ok {
			return
		}
		if _, seen := socials[platform]; !seen {
			socials[platform] = href
		}
	})
	return socials, nil
}

// fromSearch falls back to a web search for entities without a usable website.
func (s *DiscoverSocials) fromSearch(ctx context.Context, entity model.Entity) (map[string]string, error) {
	query := strings.TrimSpace(entity.Name + " " + entity.City + " instagram facebook")
	resp, err := s.jina.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	socials := make(map[string]string)
	for _, result := range resp.Data {
		platform, ok := classifySocialURL(result.URL)
		if !ok {
			continue
		}
		if _, seen := socials[platform]; !seen {
			socials[platform] = result.URL
		}
	}
	return socials, nil
}

// classifySocialURL maps a URL to its social platform key. Bare platform
// roots and share/intent links are not profiles and are rejected.
func classifySocialURL(href string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")

	for suffix, platform := range socialHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			path := strings.Trim(u.Path, "/")
			if path == "" || strings.HasPrefix(path, "share") || strings.HasPrefix(path, "intent") {
				return "", false
			}
			return platform, true
		}
	}
	return "", false
}
