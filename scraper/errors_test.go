package scraper

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "ok", err: nil, statusCode: http.StatusOK, expected: ""},
		{name: "context timeout", err: context.DeadlineExceeded, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: "network"},
		{name: "reset", err: errors.New("connection reset by peer"), expected: "network"},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, expected: "blocked"},
		{name: "forbidden", statusCode: http.StatusForbidden, expected: "blocked"},
		{name: "not found", statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", statusCode: http.StatusTooManyRequests, expected: "http_status"},
		{name: "server error", statusCode: http.StatusServiceUnavailable, expected: "http_status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err, tt.statusCode)
			if tt.expected == "" {
				if got != nil {
					t.Fatalf("classifyError = %v, want nil", got)
				}
				return
			}
			if kind := models.ErrorKind(got); kind != tt.expected {
				t.Fatalf("classifyError(%v, %d) kind = %q, want %q", tt.err, tt.statusCode, kind, tt.expected)
			}
		})
	}
}

func TestClassifyErrorRetryability(t *testing.T) {
	if !models.IsRetryable(classifyError(nil, http.StatusBadGateway)) {
		t.Fatalf("5xx should be retryable")
	}
	if models.IsRetryable(classifyError(nil, http.StatusForbidden)) {
		t.Fatalf("403 should not be retryable")
	}
	if models.IsRetryable(classifyError(nil, http.StatusBadRequest)) {
		t.Fatalf("400 should not be retryable")
	}
	if err := classifyError(context.Canceled, 0); !errors.Is(err, context.Canceled) || models.IsRetryable(err) {
		t.Fatalf("cancellation should pass through, got %v", err)
	}
}

func TestBlockDetector(t *testing.T) {
	d := newBlockDetector([]string{"Captcha", "slide to verify", " "}, []string{"/login", "signin"})

	tests := []struct {
		name     string
		request  string
		final    string
		body     string
		expected string
	}{
		{name: "content", request: "https://a.test/p/1", final: "https://a.test/p/1", body: "<h1>Earbuds</h1>", expected: ""},
		{name: "login redirect", request: "https://a.test/p/1", final: "https://a.test/login?next=/p/1", body: "<form></form>", expected: "login_wall"},
		{name: "signin host", request: "https://a.test/p/1", final: "https://signin.a.test/", expected: "login_wall"},
		{name: "login page requested directly", request: "https://a.test/login", final: "https://a.test/login?x=1", expected: ""},
		{name: "captcha body", request: "https://a.test/p/1", final: "https://a.test/p/1", body: "<div>CAPTCHA required</div>", expected: "challenge:captcha"},
		{name: "slider", request: "https://a.test/p/1", body: "please Slide To Verify", expected: "challenge:slide to verify"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Detect(tt.request, tt.final, []byte(tt.body)); got != tt.expected {
				t.Fatalf("Detect = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClassifyResponseStampsContext(t *testing.T) {
	d := newBlockDetector([]string{"captcha"}, nil)

	err := classifyResponse(models.PlatformAlibaba, "https://www.alibaba.com/product-detail/x_1.html", Response{StatusCode: http.StatusForbidden}, nil, d)
	var blocked models.BlockedError
	if !errors.As(err, &blocked) || blocked.Platform != models.PlatformAlibaba || blocked.Reason != "http_403" {
		t.Fatalf("blocked = %+v (%v)", blocked, err)
	}

	err = classifyResponse(models.PlatformAlibaba, "https://www.alibaba.com/product-detail/x_2.html", Response{StatusCode: http.StatusOK, Body: []byte("captcha")}, nil, d)
	if !errors.As(err, &blocked) || blocked.Reason != "challenge:captcha" {
		t.Fatalf("challenge = %v", err)
	}

	if err := classifyResponse(models.PlatformAlibaba, "https://www.alibaba.com/product-detail/x_3.html", Response{StatusCode: http.StatusOK, Body: []byte("<h1>ok</h1>")}, nil, d); err != nil {
		t.Fatalf("clean page classified as %v", err)
	}
}
