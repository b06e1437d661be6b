package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refset/desk-routing/internal/routing"
)

func testConfig(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"ROUTER_DB_DRIVER", "ROUTER_DB_DSN", "ROUTER_CLASSIFIER_PROVIDER", "KAFKA_BROKERS", "LOG_LEVEL", "ROUTER_RULES_FILE"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "database:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "routing.db") + "\nlog_level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, cleanup := NewRootCommand()
	defer cleanup()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSeedInboundStatus(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, "--config", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema applied (sqlite)")

	out, err = run(t, "--config", cfg, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 7 desks")

	out, err = run(t, "--config", cfg, "inbound",
		"--from-email", "ops.cl0001@example-client.com",
		"--subject", "Fee dispute",
		"--body", "We were charged a fee we do not recognise. Please refund.")
	require.NoError(t, err)
	var res routing.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.OK)
	assert.Equal(t, "TCK000001", res.TicketRef)

	payload := base64.StdEncoding.EncodeToString([]byte(
		`{"from_email":"ops.cl0002@example-client.com","subject":"Position summary","body":"Send our holdings and positions"}`))
	out, err = run(t, "--config", cfg, "inbound", "--payload-b64", payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "TCK000002", res.TicketRef)

	out, err = run(t, "--config", cfg, "status", "--ticket-ref", "TCK000001")
	require.NoError(t, err)
	var status routing.TicketStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "TCK000001", status.Ticket.Ref)
	assert.NotEmpty(t, status.DecisionPath)

	out, err = run(t, "--config", cfg, "status", "--ticket-ref", "TCK000404")
	assert.ErrorIs(t, err, routing.ErrTicketNotFound)
	assert.Contains(t, out, "ticket_not_found")

	out, err = run(t, "--config", cfg, "audit", "--limit", "1")
	require.NoError(t, err)
	var events []routing.AuditEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Trace.ID)

	out, err = run(t, "--config", cfg, "loads")
	require.NoError(t, err)
	var loads []routing.AgentLoadView
	require.NoError(t, json.Unmarshal([]byte(out), &loads))
	assert.Len(t, loads, 9)
}

func TestInboundNeedsSender(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, "--config", cfg, "inbound", "--subject", "hello")
	assert.ErrorContains(t, err, "--from-email is required")

	_, err = run(t, "--config", cfg, "inbound", "--payload-b64", "%%%")
	assert.ErrorContains(t, err, "decode --payload-b64")
}

func TestDBFlagOverridesConfig(t *testing.T) {
	cfg := testConfig(t)
	other := filepath.Join(t.TempDir(), "other.db")

	_, err := run(t, "--config", cfg, "--db", other, "migrate")
	require.NoError(t, err)
	_, err = os.Stat(other)
	assert.NoError(t, err)
}
