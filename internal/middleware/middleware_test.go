package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/custody-ledger/backend/internal/auth"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "test-secret"

func newAuthApp() *fiber.App {
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Use(AuthMiddleware(testSecret, zap.NewNop()))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(string(GetCaller(c)))
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	app := newAuthApp()
	valid, _ := auth.GenerateJWT(testSecret, "EQpayer", time.Hour)
	forged, _ := auth.GenerateJWT("other-secret", "EQpayer", time.Hour)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid token", "Bearer " + valid, fiber.StatusOK, "EQpayer"},
		{"missing header", "", fiber.StatusUnauthorized, ""},
		{"no bearer prefix", valid, fiber.StatusUnauthorized, ""},
		{"forged token", "Bearer " + forged, fiber.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.body != "" {
				b, _ := io.ReadAll(resp.Body)
				if string(b) != tt.body {
					t.Errorf("body = %q, want %q", b, tt.body)
				}
			}
		})
	}
}

func TestDirectFundingMiddleware(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		app := fiber.New()
		app.Post("/deposit", DirectFundingMiddleware(enabled), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusNoContent)
		})
		resp, err := app.Test(httptest.NewRequest("POST", "/deposit", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		want := fiber.StatusForbidden
		if enabled {
			want = fiber.StatusNoContent
		}
		if resp.StatusCode != want {
			t.Errorf("enabled=%v: status = %d, want %d", enabled, resp.StatusCode, want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	resp, _ := app.Test(req)
	if got := resp.Header.Get("X-Request-ID"); got != "req-1" {
		t.Errorf("X-Request-ID = %q, want echo of incoming id", got)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/", nil))
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing generated request id")
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 65))
	resp, _ = app.Test(req)
	if got := resp.Header.Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("oversized id kept: %q", got)
	}
}

func TestLoggerMiddlewareLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Use(LoggerMiddleware(zap.New(core)))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/escrows/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNotFound) })
	app.Get("/boom", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusInternalServerError) })

	for _, path := range []string{"/health", "/escrows/abc", "/boom"} {
		if _, err := app.Test(httptest.NewRequest("GET", path, nil)); err != nil {
			t.Fatalf("app.Test(%s): %v", path, err)
		}
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("logged %d requests, want 2 (health is quiet)", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("404 level = %v, want warn", entries[0].Level)
	}
	if got := entries[0].ContextMap()["ledger_id"]; got != "abc" {
		t.Errorf("ledger_id = %v, want abc", got)
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Errorf("500 level = %v, want error", entries[1].Level)
	}
}
