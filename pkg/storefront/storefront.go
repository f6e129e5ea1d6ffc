// Package storefront builds the channel report of concurrent player counts
// for games sold on the Steam storefront.
package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"chatkeeper/pkg/config"
	"chatkeeper/pkg/format"
)

const (
	topSellersURL = "https://store.steampowered.com/search/?filter=topsellers"
	detailsURL    = "https://store.steampowered.com/api/appdetails?appids=%d"
	playersURL    = "https://api.steampowered.com/ISteamUserStats/GetNumberOfCurrentPlayers/v1/?appid=%d"
	storePageURL  = "https://store.steampowered.com/app/%d"
)

var appIDPattern = regexp.MustCompile(`data-ds-appid="(\d+)"`)

// Game is one report row.
type Game struct {
	ID      int
	Name    string
	Players int
}

// Client queries the storefront with a shared rate limit so report building
// does not trip its request throttling.
type Client struct {
	baseSearchURL  string
	baseDetailsURL string
	basePlayersURL string

	knownIDs []int
	topLimit int

	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient builds a storefront client from config.
func NewClient(cfg config.StorefrontConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	return &Client{
		baseSearchURL:  topSellersURL,
		baseDetailsURL: detailsURL,
		basePlayersURL: playersURL,
		knownIDs:       cfg.KnownGameIDs,
		topLimit:       cfg.TopLimit,
		http:           &http.Client{Timeout: 30 * time.Second},
		limiter:        rate.NewLimiter(rate.Limit(rps), 1),
		log:            log.With("component", "storefront"),
	}
}

// TopSellerIDs scrapes the top-sellers search page for app IDs. Known IDs
// from config are seeded first so they always make the report, then scraped
// IDs fill the remainder up to the configured limit. Duplicates are dropped.
func (c *Client) TopSellerIDs(ctx context.Context) ([]int, error) {
	body, err := c.get(ctx, c.baseSearchURL)
	if err != nil {
		return nil, fmt.Errorf("fetch top sellers: %w", err)
	}

	ids := make([]int, 0, c.topLimit)
	seen := make(map[int]bool)

	add := func(id int) {
		if id == 0 || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, id := range c.knownIDs {
		add(id)
	}
	for _, match := range appIDPattern.FindAllStringSubmatch(string(body), -1) {
		id, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		add(id)
	}

	if c.topLimit > 0 && len(ids) > c.topLimit {
		ids = ids[:c.topLimit]
	}

	return ids, nil
}

type detailsResponse map[string]struct {
	Success bool `json:"success"`
	Data    struct {
		Name string `json:"name"`
	} `json:"data"`
}

type playersResponse struct {
	Response struct {
		PlayerCount int `json:"player_count"`
		Result      int `json:"result"`
	} `json:"response"`
}

// GameDetails resolves the name and current player count for one app. The
// two storefront endpoints are independent, so they run concurrently.
func (c *Client) GameDetails(ctx context.Context, appID int) (Game, error) {
	game := Game{ID: appID}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		body, err := c.get(ctx, fmt.Sprintf(c.baseDetailsURL, appID))
		if err != nil {
			return fmt.Errorf("app details: %w", err)
		}

		var details detailsResponse
		if err := json.Unmarshal(body, &details); err != nil {
			return fmt.Errorf("decode app details: %w", err)
		}

		entry, ok := details[strconv.Itoa(appID)]
		if !ok || !entry.Success || entry.Data.Name == "" {
			return fmt.Errorf("no details for app %d", appID)
		}
		game.Name = entry.Data.Name

		return nil
	})

	group.Go(func() error {
		body, err := c.get(ctx, fmt.Sprintf(c.basePlayersURL, appID))
		if err != nil {
			return fmt.Errorf("player count: %w", err)
		}

		var players playersResponse
		if err := json.Unmarshal(body, &players); err != nil {
			return fmt.Errorf("decode player count: %w", err)
		}
		game.Players = players.Response.PlayerCount

		return nil
	})

	if err := group.Wait(); err != nil {
		return Game{}, err
	}

	return game, nil
}

// BuildOnlineReport assembles the HTML report for the channel. Games that
// fail to resolve are skipped rather than failing the whole report.
func (c *Client) BuildOnlineReport(ctx context.Context) (string, error) {
	ids, err := c.TopSellerIDs(ctx)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, id := range ids {
		game, err := c.GameDetails(ctx, id)
		if err != nil {
			c.log.Warn("Skipping game in report", "app_id", id, "error", err)
			continue
		}

		lines = append(lines,
			fmt.Sprintf(`<b><a href="%s">%s</a></b>`, fmt.Sprintf(storePageURL, game.ID), game.Name),
			fmt.Sprintf("🟢 %s онлайн", format.Count(int64(game.Players))),
			"")
	}

	if len(lines) == 0 {
		return "", fmt.Errorf("no games resolved for report")
	}

	lines = append([]string{"<b>🔥 Онлайн популярных игр в Steam:</b>", ""}, lines...)
	lines = append(lines, fmt.Sprintf("📅 <i>%s</i>", format.ReportDate(time.Now())))

	return strings.Join(lines, "\n"), nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}
