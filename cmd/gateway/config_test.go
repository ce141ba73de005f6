package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseCLI(t *testing.T, args ...string) *CLI {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("gateway"))
	require.NoError(t, err)
	_, err = parser.Parse(args)
	require.NoError(t, err)
	return &cli
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCLI_DefaultsAndEnv(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("RATE_MAX", "3")
	t.Setenv("RATE_WINDOW", "1s")
	t.Setenv("RATE_BAN", "2")
	t.Setenv("RATE_ALLOW_LIST", "10.0.0.1,10.0.0.2")

	cli := parseCLI(t)
	assert.Equal(t, ":8080", cli.ListenAddr)
	assert.True(t, cli.RateEnabled)
	assert.Equal(t, "memory", cli.RateStore)

	p, err := cli.GlobalPolicy()
	require.NoError(t, err)
	max, err := p.Max.Resolve(context.Background(), "k")
	require.NoError(t, err)
	assert.EqualValues(t, 3, max)
	assert.Equal(t, time.Second, p.TimeWindow)
	assert.Equal(t, 2, *p.BanThreshold)
	assert.True(t, p.Global)

	ok, err := p.AllowList.Resolve(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCLI_ValidateRequiresRedisAddr(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	require.NoError(t, err)
	_, err = parser.Parse([]string{"--upstream-url=http://x", "--rate-store=redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestCLI_GlobalPolicyRejectsInvalidValues(t *testing.T) {
	cli := parseCLI(t, "--upstream-url=http://x", "--rate-ban=-1")
	_, err := cli.GlobalPolicy()
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestLoadRoutes(t *testing.T) {
	path := writeFile(t, "routes.yaml", `
routes:
  - method: post
    path: /login
    max: 3
    time_window: 30s
    ban: 2
    allow_list: [10.0.0.1]
  - path: /health
    disabled: true
`)

	routes, err := loadRoutes(path)
	require.NoError(t, err)
	require.Len(t, routes, 2)

	login := routes[0]
	assert.Equal(t, "POST /login", login.Pattern())
	o := login.Override()
	max, err := o.Max.Resolve(context.Background(), "k")
	require.NoError(t, err)
	assert.EqualValues(t, 3, max)
	assert.Equal(t, 30*time.Second, *o.TimeWindow)
	assert.Equal(t, 2, *o.BanThreshold)
	assert.Nil(t, o.SkipOnError, "absent fields must stay nil so they inherit")

	health := routes[1]
	assert.Equal(t, "/health", health.Pattern())
	assert.True(t, health.Override().Disabled)
	assert.Nil(t, health.Override().Max)
}

func TestLoadRoutes_Errors(t *testing.T) {
	_, err := loadRoutes(writeFile(t, "bad.yaml", "routes:\n  - path: login\n"))
	assert.ErrorContains(t, err, "must start with /")

	_, err = loadRoutes(writeFile(t, "dup.yaml", "routes:\n  - path: /a\n  - path: /a\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = loadRoutes(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	routes, err := loadRoutes("")
	assert.NoError(t, err)
	assert.Empty(t, routes)
}
