package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/client"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/explorer"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/server"
	"github.com/nicktill/tinylens/pkg/storage"
	"github.com/nicktill/tinylens/pkg/storage/memory"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func startServer(t *testing.T) *client.Client {
	t.Helper()
	cfg := &config.Server{Port: "0", InMemory: true, MaxStorageGB: 1}
	srv, err := server.NewWithStorage(context.Background(), cfg, memory.New(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	c := client.New(ts.URL, logger.Nop())
	docs := make([]storage.Document, 0, 24)
	for i := 0; i < 24; i++ {
		docs = append(docs, storage.Document{
			Index:     "orders",
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Fields: map[string]interface{}{
				"status": []string{"paid", "refunded"}[i%2],
				"amount": float64(10 + i),
				"region": "eu",
			},
		})
	}
	n, err := c.Ingest(context.Background(), docs)
	require.NoError(t, err)
	require.Equal(t, 24, n)
	return c
}

func TestFormFlagsParams(t *testing.T) {
	f := formFlags{index: "orders", interval: "auto", timestamp: "timestamp"}
	_, err := f.params()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--term")
	assert.Contains(t, err.Error(), "--numeric")

	f.term, f.numeric = "status", "amount"
	f.start, f.end = "2024-03-01T00:00:00Z", "2024-03-02T00:00:00Z"
	p, err := f.params()
	require.NoError(t, err)
	assert.NotEqual(t, config.AutoInterval, p.Interval)
	assert.True(t, p.StartDate.Equal(t0))

	f.start, f.end = f.end, f.start
	_, err = f.params()
	assert.Error(t, err)

	f.start = "yesterday"
	_, err = f.params()
	assert.ErrorContains(t, err, "--start")
}

func TestFormFlagsDefaultRange(t *testing.T) {
	var f formFlags
	start, end, err := f.timeRange()
	require.NoError(t, err)
	assert.Equal(t, defaultWindow, end.Sub(start))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestColorAttr(t *testing.T) {
	assert.Equal(t, color.FgRed, colorAttr("#e31a1c"))
	assert.Equal(t, color.FgBlue, colorAttr("#1f78b4"))
	assert.Equal(t, color.FgWhite, colorAttr("#ffffff"))
	assert.Equal(t, color.Reset, colorAttr("teal"))
}

func TestExploreScript(t *testing.T) {
	color.NoColor = true
	c := startServer(t)
	ctx := context.Background()

	sess, err := explorer.NewSession(ctx, c, memory.New().KV(), explorer.SessionOptions{
		User: annotation.User{UserID: "tester"},
	}, logger.Nop())
	require.NoError(t, err)

	var out bytes.Buffer
	r := &repl{sess: sess, out: &out, width: 1200, height: 400}

	script := strings.Join([]string{
		"index orders",
		"term status",
		"numeric amount",
		"timestamp timestamp",
		"interval 1h",
		"filter region eu",
		"range 2024-03-01T00:00:00Z 2024-03-02T00:00:00Z",
		"mode annotation",
		"brush 300 500",
		"save incident checkout outage",
		"list",
		"approve 1",
		"bogus",
		"quit",
		"show",
	}, "\n")
	require.NoError(t, r.run(ctx, strings.NewReader(script)))

	got := out.String()
	assert.Contains(t, got, "interval 1h")
	assert.Contains(t, got, "created ")
	assert.Contains(t, got, "checkout outage")
	assert.Contains(t, got, "approved")
	assert.Contains(t, got, `unknown command "bogus"`)

	list := sess.Feed().Annotations()
	require.Len(t, list, 1)
	assert.Equal(t, annotation.StatusApproved, list[0].Status)
	assert.Equal(t, annotation.TypeIncident, list[0].AnnotationType)
	assert.Equal(t, "region", list[0].FilterField)
}

func TestExploreRejectsIncompleteBrush(t *testing.T) {
	color.NoColor = true
	c := startServer(t)
	ctx := context.Background()

	sess, err := explorer.NewSession(ctx, c, memory.New().KV(), explorer.SessionOptions{}, logger.Nop())
	require.NoError(t, err)

	var out bytes.Buffer
	r := &repl{sess: sess, out: &out, width: 1200, height: 400}
	require.NoError(t, r.run(ctx, strings.NewReader("save incident\nselect 3\n")))

	got := out.String()
	assert.Contains(t, got, explorer.ErrNoBrush.Error())
	assert.Contains(t, got, "nothing to select")
}
