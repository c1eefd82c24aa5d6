package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"pairmm/pkg/types"
)

// Resolver resolves a session's market identity from its configured slug
// against the Gamma API. A slug is either fixed (quoted directly, used as
// given for the session's whole lifetime) or a rotating prefix, in which
// case the resolver computes the current window boundary and appends it.
type Resolver struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewResolver constructs a resolver against the public Gamma API.
func NewResolver(baseURL string, logger *slog.Logger) *Resolver {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Resolver{http: httpClient, logger: logger.With("component", "resolver")}
}

// numericSuffix matches a slug ending in -<digits>, which marks a fixed
// slug that has already been resolved to a concrete window timestamp.
var numericSuffix = regexp.MustCompile(`-(\d+)$`)

// IsPrefixSlug reports whether slug names a rotating window family
// (e.g. "btc-updown-15m") rather than a fully-qualified fixed slug
// (e.g. "btc-updown-15m-1767707100").
func IsPrefixSlug(slug string) bool {
	return !numericSuffix.MatchString(slug)
}

// WindowInterval returns the rotation interval implied by a prefix slug's
// trailing window-size segment. Unrecognized or absent segments default to
// 15 minutes, matching the venue's most common crypto up/down cadence.
func WindowInterval(prefixSlug string) time.Duration {
	switch {
	case len(prefixSlug) >= 3 && prefixSlug[len(prefixSlug)-3:] == "-5m":
		return 5 * time.Minute
	case len(prefixSlug) >= 4 && prefixSlug[len(prefixSlug)-4:] == "-15m":
		return 15 * time.Minute
	default:
		return 15 * time.Minute
	}
}

// CurrentWindowSlug appends the current window's boundary timestamp to a
// prefix slug. Unlike a naive floor-division alignment, the boundary is
// rounded UP to the next interval edge: a bot that resolves its slug a few
// seconds before an interval edge must trade the window that is about to
// open, not the one that is already closing, or it will spend its whole
// session chasing an expiring market.
func CurrentWindowSlug(prefixSlug string, interval time.Duration, now time.Time) string {
	secs := int64(interval / time.Second)
	nowUnix := now.Unix()
	windowTs := ((nowUnix + secs - 1) / secs) * secs
	return fmt.Sprintf("%s-%d", prefixSlug, windowTs)
}

type gammaEvent struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Active  bool   `json:"active"`
	Closed  bool   `json:"closed"`
	EndDate string `json:"endDate"`
	Markets []struct {
		ConditionID   string `json:"conditionId"`
		Outcomes      string `json:"outcomes"`
		OutcomePrices string `json:"outcomePrices"`
		ClobTokenIds  string `json:"clobTokenIds"`
		MinOrderSize  string `json:"orderMinSize"`
		NegRisk       bool   `json:"negRisk"`
		EndDate       string `json:"endDate"`
	} `json:"markets"`
}

// Resolve fetches slug from the Gamma API and extracts the market identity
// the rest of the session needs: the condition ID and the two CLOB token
// IDs, ordered (yes, no) by matching the "Yes"/"Up" outcome label.
func (r *Resolver) Resolve(ctx context.Context, slug string) (types.MarketInfo, error) {
	var events []gammaEvent
	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&events).
		Get("/events")
	if err != nil {
		return types.MarketInfo{}, fmt.Errorf("resolve slug %q: %w", slug, err)
	}
	if resp.StatusCode() != 200 {
		return types.MarketInfo{}, fmt.Errorf("resolve slug %q: status %d: %s", slug, resp.StatusCode(), resp.String())
	}
	if len(events) == 0 || len(events[0].Markets) == 0 {
		return types.MarketInfo{}, fmt.Errorf("resolve slug %q: no market found", slug)
	}

	event := events[0]
	mkt := event.Markets[0]

	if mkt.OutcomePrices == "" || mkt.OutcomePrices == "null" {
		return types.MarketInfo{}, fmt.Errorf("resolve slug %q: market has no prices (no liquidity yet)", slug)
	}

	var outcomes []string
	if err := json.Unmarshal([]byte(mkt.Outcomes), &outcomes); err != nil {
		return types.MarketInfo{}, fmt.Errorf("resolve slug %q: decode outcomes: %w", slug, err)
	}
	var tokenIDs []string
	if err := json.Unmarshal([]byte(mkt.ClobTokenIds), &tokenIDs); err != nil {
		return types.MarketInfo{}, fmt.Errorf("resolve slug %q: decode clobTokenIds: %w", slug, err)
	}
	if len(outcomes) < 2 || len(tokenIDs) < 2 {
		return types.MarketInfo{}, fmt.Errorf("resolve slug %q: expected 2 outcomes, got %d", slug, len(outcomes))
	}

	yesIdx := 0
	for i, o := range outcomes {
		if isYesLabel(o) {
			yesIdx = i
			break
		}
	}
	noIdx := 1 - yesIdx

	info := types.MarketInfo{
		ConditionID:  mkt.ConditionID,
		Slug:         event.Slug,
		YesTokenID:   tokenIDs[yesIdx],
		NoTokenID:    tokenIDs[noIdx],
		TickSize:     types.Tick001,
		MinOrderSize: parseMinSize(mkt.MinOrderSize),
		NegRisk:      mkt.NegRisk,
	}
	if end, err := time.Parse(time.RFC3339, mkt.EndDate); err == nil {
		info.EndDate = end
	}

	r.logger.Info("resolved market",
		"slug", event.Slug,
		"condition_id", info.ConditionID,
		"yes_token", info.YesTokenID,
		"no_token", info.NoTokenID,
	)
	return info, nil
}

func isYesLabel(outcome string) bool {
	switch outcome {
	case "Yes", "yes", "Up", "up":
		return true
	default:
		return false
	}
}

func parseMinSize(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
