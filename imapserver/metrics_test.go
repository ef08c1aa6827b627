package imapserver

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/backend/memstore"
	"github.com/emersion/go-imapsession/mailbox"
)

// commandCount returns the number of observations of a command with a given
// result.
func commandCount(t *testing.T, reg *prometheus.Registry, cmd, result string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "imapsession_command_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["cmd"] == cmd && labels["result"] == result {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	dir := mailbox.NewDirectory(func(ctx context.Context, username string) (mailbox.Store, error) {
		return memstore.New(), nil
	}, &mailbox.Options{OnEvent: metrics.ObserveEvent})
	t.Cleanup(func() { dir.Close() })
	env := &testEnv{t: t, dir: dir}
	env.appendMessages(imap.InboxName, 1)

	options := &SessionOptions{
		Authenticator: &testAuthenticator{passwords: map[string]string{"alice": "secret"}},
		InsecureAuth:  true,
		Metrics:       metrics,
	}
	tc1, tc2 := env.newSession(options), env.newSession(options)

	_, tagged := tc1.do(`A1 FETCH 1 FLAGS`)
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)

	tc1.expectOK(`A2 LOGIN alice secret`)
	tc2.expectOK(`B1 LOGIN alice secret`)
	tc1.expectOK(`A3 SELECT INBOX`)
	tc2.expectOK(`B2 SELECT INBOX`)
	tc1.expectOK(`A4 STORE 1 +FLAGS.SILENT (\Seen)`)
	tc1.expectOK(`A5 UID STORE 1 +FLAGS.SILENT (\Flagged)`)

	assert.Equal(t, uint64(1), commandCount(t, reg, "FETCH", "bad"))
	assert.Equal(t, uint64(2), commandCount(t, reg, "LOGIN", "ok"))
	assert.Equal(t, uint64(1), commandCount(t, reg, "STORE", "ok"))
	assert.Equal(t, uint64(1), commandCount(t, reg, "UID STORE", "ok"))

	// each STORE was queued to the other session only
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.events.WithLabelValues("flags")))

	metrics.connOpened("imaps")
	metrics.connOpened("imap")
	metrics.connClosed()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.connections.WithLabelValues("imaps")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.active))
}

func TestMetrics_nil(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.connOpened("imap")
		metrics.connClosed()
		metrics.observeCommand("NOOP", imap.StatusResponseTypeOK, 0)
		metrics.ObserveEvent(mailbox.EventFlags, 1)
	})
}
