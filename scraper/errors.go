package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

// ErrOrchestratorClosed is returned for work still queued when Close runs.
var ErrOrchestratorClosed = errors.New("scraper: orchestrator closed")

// challengeBodyLimit bounds the body size inspected for anti-bot markers.
// Challenge interstitials are small; full product pages may legitimately
// mention "captcha" in inline scripts.
const challengeBodyLimit = 256 * 1024

// classifyError maps a transport error or HTTP status onto the typed errors
// in models. It returns nil for a usable 2xx/3xx response.
func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.NetworkError{Err: err, Timeout: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NetworkError{Err: err, Timeout: true}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return models.NetworkError{Err: err}
		}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
			return models.BlockedError{Reason: fmt.Sprintf("http_%d", statusCode), Err: wrapped}
		case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
			return models.NotFoundError{}
		case statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError:
			return models.NetworkError{Err: wrapped, StatusCode: statusCode}
		case statusCode >= http.StatusBadRequest:
			return wrapped
		}
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Anything else from the transport (reset, EOF, TLS) is treated as transient.
	return models.NetworkError{Err: err}
}

// blockDetector recognises anti-bot interstitials and login walls that come
// back with a 2xx status.
type blockDetector struct {
	bodyMarkers  []string
	loginMarkers []string
}

func newBlockDetector(bodyMarkers, loginMarkers []string) blockDetector {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, m := range in {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				out = append(out, m)
			}
		}
		return out
	}
	return blockDetector{bodyMarkers: lower(bodyMarkers), loginMarkers: lower(loginMarkers)}
}

// Detect returns a reason, or "" when the response looks like real content.
func (d blockDetector) Detect(requestURL, finalURL string, body []byte) string {
	if finalURL != "" && !strings.EqualFold(finalURL, requestURL) {
		lowerFinal := strings.ToLower(finalURL)
		for _, marker := range d.loginMarkers {
			if strings.Contains(lowerFinal, marker) && !strings.Contains(strings.ToLower(requestURL), marker) {
				return "login_wall"
			}
		}
	}
	if len(body) == 0 || len(body) > challengeBodyLimit {
		return ""
	}
	lowerBody := strings.ToLower(string(body))
	for _, marker := range d.bodyMarkers {
		if strings.Contains(lowerBody, marker) {
			return "challenge:" + marker
		}
	}
	return ""
}

// classifyResponse combines status classification with block detection and
// stamps platform and URL context onto the result.
func classifyResponse(platform models.Platform, requestURL string, resp Response, err error, detector blockDetector) error {
	classified := classifyError(err, resp.StatusCode)
	if classified == nil {
		if reason := detector.Detect(requestURL, resp.FinalURL, resp.Body); reason != "" {
			classified = models.BlockedError{Reason: reason}
		}
	}

	var blocked models.BlockedError
	if errors.As(classified, &blocked) {
		blocked.Platform = platform
		return blocked
	}
	var notFound models.NotFoundError
	if errors.As(classified, &notFound) {
		return models.NotFoundError{URL: requestURL}
	}
	return classified
}
