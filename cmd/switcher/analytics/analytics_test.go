package analytics

import (
	"path/filepath"
	"testing"

	"github.com/segmentio/analytics-go/v3"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	messages []analytics.Message
}

func (r *recordingClient) Enqueue(msg analytics.Message) error {
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingClient) Close() error { return nil }

func newConfig(t *testing.T) *viper.Viper {
	cfg := viper.New()
	cfg.SetConfigType("yaml")
	cfg.SetConfigFile(filepath.Join(t.TempDir(), "config.yaml"))
	return cfg
}

func TestProxyClientPopulatesIdentity(t *testing.T) {
	rec := &recordingClient{}
	c := &proxyClient{Client: rec, identity: &Identity{AnonymousID: "cid"}}

	require.NoError(t, c.Enqueue(FirmwareFlashed("PiShock", "OpenShock", true)))
	require.NoError(t, c.Enqueue(analytics.Page{Name: PageExecute, AnonymousId: "other"}))

	require.Len(t, rec.messages, 2)
	track := rec.messages[0].(analytics.Track)
	assert.Equal(t, "cid", track.AnonymousId)
	assert.Equal(t, EventFirmwareFlashed, track.Event)
	assert.Equal(t, "OpenShock", track.Properties["to"])
	assert.Equal(t, true, track.Properties["restored"])
	assert.Equal(t, "other", rec.messages[1].(analytics.Page).AnonymousId)
}

func TestProxyClientDisabled(t *testing.T) {
	rec := &recordingClient{}
	c := &proxyClient{Client: rec, identity: &Identity{}}
	c.Disable(true)
	assert.True(t, c.Disabled())

	require.NoError(t, c.Enqueue(analytics.Page{Name: PageExecute}))
	assert.Empty(t, rec.messages)
}

func TestLoadConfigAssignsClientID(t *testing.T) {
	cfg := newConfig(t)

	first, err := LoadConfig(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ClientID)
	assert.FileExists(t, cfg.ConfigFileUsed())

	second, err := LoadConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, second.ClientID)
}

func TestGetClientWithoutWriteKeyDiscards(t *testing.T) {
	cfg := newConfig(t)
	require.NoError(t, SetDisabled(cfg, true))

	client, err := GetClient(cfg)
	require.NoError(t, err)
	assert.True(t, client.Disabled())
	assert.IsType(t, discardClient{}, client.(*proxyClient).Client)
	assert.NoError(t, client.Close())
}
