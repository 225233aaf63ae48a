package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

const (
	releaseURL           = "https://api.github.com/repos/oszuidwest/zwfm-noisemeter/releases/latest"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second
	versionCheckTimeout  = 30 * time.Second
	versionMaxRetries    = 3
	versionRetryDelay    = 1 * time.Minute
)

// errRetryable marks a release check that failed in a way worth retrying.
var errRetryable = errors.New("release check failed")

// VersionChecker polls the latest GitHub release in the background. It is safe for concurrent use.
type VersionChecker struct {
	url    string
	client *http.Client

	mu       sync.RWMutex
	latest   string
	etag     string
	notified string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewVersionChecker starts a checker that runs until Stop is called.
func NewVersionChecker() *VersionChecker {
	vc := newVersionChecker(releaseURL, &http.Client{Timeout: versionCheckTimeout})
	vc.start()
	return vc
}

func newVersionChecker(url string, client *http.Client) *VersionChecker {
	return &VersionChecker{
		url:    url,
		client: client,
		cancel: func() {},
	}
}

// start launches the background loop.
func (vc *VersionChecker) start() {
	ctx, cancel := context.WithCancel(context.Background())
	vc.cancel = cancel
	vc.done = make(chan struct{})
	go vc.run(ctx)
}

// Stop ends the background checks and waits for the running check to return.
func (vc *VersionChecker) Stop() {
	vc.cancel()
	if vc.done != nil {
		<-vc.done
	}
}

func (vc *VersionChecker) run(ctx context.Context) {
	defer close(vc.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	delay := versionCheckDelay
	for {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		vc.checkWithRetry(ctx)
		delay = versionCheckInterval
	}
}

// checkWithRetry retries retryable failures a few times per cycle.
func (vc *VersionChecker) checkWithRetry(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		err := vc.check(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, errRetryable) || attempt == versionMaxRetries {
			slog.Debug("version check failed", "attempt", attempt, "error", err)
			return
		}
		select {
		case <-time.After(versionRetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

// githubRelease is the subset of the release API response in use.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check fetches the latest release once. Only errors wrapping errRetryable are retried.
func (vc *VersionChecker) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.url, http.NoBody)
	if err != nil {
		return util.WrapError("create release request", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-noisemeter/"+Version)

	vc.mu.RLock()
	etag := vc.etag
	vc.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := vc.client.Do(req)
	if err != nil {
		return errors.Join(errRetryable, err)
	}
	defer util.SafeClose(resp.Body, "release response body")

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return errors.Join(errRetryable, errors.New(resp.Status))
	default:
		return errors.New(resp.Status)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return errors.Join(errRetryable, util.WrapError("decode release", err))
	}
	if release.Draft || release.Prerelease || release.TagName == "" {
		return nil
	}

	latest := normalizeVersion(release.TagName)

	vc.mu.Lock()
	vc.latest = latest
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		vc.etag = newEtag
	}
	notify := vc.notified != latest && isNewerVersion(latest, normalizeVersion(Version))
	if notify {
		vc.notified = latest
	}
	vc.mu.Unlock()

	if notify {
		slog.Info("newer release available", "current", Version, "latest", latest)
	}
	return nil
}

// Info returns the version info reported in the status snapshot.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
	}
	if vc.latest != "" {
		info.UpdateAvail = isNewerVersion(vc.latest, current)
	}
	return info
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest is newer than current.
// Non-semver versions such as "dev" never compare as older.
func isNewerVersion(latest, current string) bool {
	l, c := "v"+normalizeVersion(latest), "v"+normalizeVersion(current)
	if !semver.IsValid(l) || !semver.IsValid(c) {
		return false
	}
	return semver.Compare(l, c) > 0
}
