// Package scrape pulls exited-deployment trade reports off the strategy
// dashboard so the ingest step can pick them up from disk.
package scrape

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"pnl-pipeline/internal/logger"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// Target is one strategy whose report should be downloaded, with the
// dashboard account that owns it.
type Target struct {
	StrategyName string
	UserID       string
	Password     string
}

// Downloader drives the dashboard: log in per account, search each strategy,
// and save the report of every exited deployment into the download
// directory.
type Downloader struct {
	baseURL     string
	downloadDir string
	timeout     time.Duration
}

func NewDownloader(baseURL, downloadDir string, timeout time.Duration) *Downloader {
	return &Downloader{baseURL: baseURL, downloadDir: downloadDir, timeout: timeout}
}

// FetchReports downloads every available report and returns the saved file
// paths. Account-level failures are logged and skipped so one bad login does
// not starve the other accounts.
func (d *Downloader) FetchReports(ctx context.Context, targets []Target) ([]string, error) {
	if err := os.MkdirAll(d.downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	byAccount := make(map[string][]Target)
	var accounts []string
	for _, t := range targets {
		if _, seen := byAccount[t.UserID]; !seen {
			accounts = append(accounts, t.UserID)
		}
		byAccount[t.UserID] = append(byAccount[t.UserID], t)
	}

	var saved []string
	for _, account := range accounts {
		paths, err := d.fetchAccount(ctx, account, byAccount[account])
		if err != nil {
			logger.ErrorWithErr(ctx, "Account scrape failed", err, "account", account)
			continue
		}
		saved = append(saved, paths...)
	}

	logger.Info(ctx, "Report download finished",
		"accounts", len(accounts), "files", len(saved))
	return saved, nil
}

func (d *Downloader) fetchAccount(ctx context.Context, account string, targets []Target) ([]string, error) {
	c := colly.NewCollector(
		colly.AllowedDomains(domain(d.baseURL)),
		colly.MaxDepth(2),
	)
	c.SetRequestTimeout(d.timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", userAgent)
	})

	logger.Info(ctx, "Logging in", "account", account)
	err := c.Post(d.baseURL+"/login", map[string]string{
		"email":    account,
		"password": targets[0].Password,
	})
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", account, err)
	}

	var saved []string
	var downloadURLs []string
	var current string

	c.OnHTML("div.strategy__section", func(e *colly.HTMLElement) {
		text := e.DOM.Text()
		if !strings.Contains(text, current) || !strings.Contains(text, "Exited") {
			return
		}
		e.DOM.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if !strings.Contains(sel.Text(), "Download Data") {
				return true
			}
			if href, ok := sel.Attr("href"); ok {
				downloadURLs = append(downloadURLs, e.Request.AbsoluteURL(href))
			}
			return false
		})
	})

	c.OnResponse(func(r *colly.Response) {
		if !strings.Contains(r.Headers.Get("Content-Type"), "csv") {
			return
		}
		name := r.FileName()
		if name == "" {
			name = current + ".csv"
		}
		path := filepath.Join(d.downloadDir, name)
		if err := r.Save(path); err != nil {
			logger.ErrorWithErr(ctx, "Report save failed", err, "file", name)
			return
		}
		saved = append(saved, path)
		logger.Info(ctx, "Report saved", "file", name)
	})

	for _, t := range targets {
		current = strings.TrimSpace(t.StrategyName)
		downloadURLs = downloadURLs[:0]

		search := fmt.Sprintf("%s/deployed-strategies?search=%s",
			d.baseURL, url.QueryEscape(current))
		if err := c.Visit(search); err != nil {
			logger.ErrorWithErr(ctx, "Strategy search failed", err,
				"account", account, "strategy", current)
			continue
		}

		if len(downloadURLs) == 0 {
			logger.Info(ctx, "No exited deployment to download", "strategy", current)
			continue
		}
		for _, u := range downloadURLs {
			if err := c.Visit(u); err != nil {
				logger.ErrorWithErr(ctx, "Report download failed", err,
					"strategy", current, "url", u)
			}
		}
	}
	return saved, nil
}

func domain(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
