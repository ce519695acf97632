package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relic-hub/relic/common/config"
	"github.com/relic-hub/relic/common/messaging"
)

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(config.NATSConfig{
		URL:           "nats://broker:4222",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}, "relic-pipeline")

	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, "relic-pipeline", cfg.Name)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(Config{
		URL:     "nats://127.0.0.1:1",
		Name:    "test",
		Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}

func TestMessageConversion(t *testing.T) {
	in := &messaging.Message{
		Subject:  messaging.SubjectRecordsFailed,
		Data:     []byte(`{"outcome":"failed"}`),
		Metadata: map[string]string{"Relic-Uuid": "abc"},
	}

	nm := toNATS(in)
	assert.Equal(t, in.Subject, nm.Subject)
	assert.Equal(t, "abc", nm.Header.Get("Relic-Uuid"))

	out := fromNATS(nm)
	assert.Equal(t, in.Subject, out.Subject)
	assert.Equal(t, in.Data, out.Data)
	assert.Equal(t, "abc", out.Metadata["Relic-Uuid"])
	assert.False(t, out.Timestamp.IsZero())
}

func TestFromNATS_NoHeaders(t *testing.T) {
	out := fromNATS(&nats.Msg{Subject: "x", Data: []byte("y")})
	assert.Nil(t, out.Metadata)
}
