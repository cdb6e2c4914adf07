// cmd/preflight/main.go
package main

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/hamed0406/proxychecker/internal/config"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg := config.FromEnv()

	if len(cfg.AdminAPIKeys) == 0 {
		fail("ADMIN_API_KEYS is empty (admin routes are open to anyone).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		warn("PUBLIC_API_KEYS is empty; only admin keys can read.")
	}
	for name, v := range map[string]string{"ADMIN_API_KEYS": os.Getenv("ADMIN_API_KEYS"), "PUBLIC_API_KEYS": os.Getenv("PUBLIC_API_KEYS")} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; they are trimmed, but key1,key2 is the expected form")
		}
	}

	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		fail("API_ADDR " + cfg.Addr + " is not host:port: " + err.Error())
	}
	ok("API_ADDR=" + cfg.Addr)

	switch {
	case cfg.DatabaseURL != "":
		ok("DATABASE_URL present (postgres store)")
	case cfg.SQLitePath != "":
		ok("SQLITE_PATH=" + cfg.SQLitePath + " (sqlite store)")
	default:
		warn("DATABASE_URL and SQLITE_PATH empty — targets and history live in memory only.")
	}

	if u, err := url.Parse(cfg.ProxyTestURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fail("PROXY_TEST_URL " + cfg.ProxyTestURL + " is not an http(s) URL")
	}
	ok("PROXY_TEST_URL=" + cfg.ProxyTestURL)

	if cfg.DNSResolver != "" {
		if _, _, err := net.SplitHostPort(cfg.DNSResolver); err != nil {
			fail("DNS_RESOLVER must be host:port: " + err.Error())
		}
		ok("DNS_RESOLVER=" + cfg.DNSResolver)
	}

	if cfg.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.SeedFile)
		if err != nil {
			fail(err.Error())
		}
		ok(fmt.Sprintf("SEED_FILE has %d valid targets", len(seed.Targets)))
	}

	if os.Getenv("ALLOWED_ORIGINS") == "" {
		warn("ALLOWED_ORIGINS empty — any origin may call the API from a browser.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	ok("preflight passed")
}
