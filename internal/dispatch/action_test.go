package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/frpfleet/api"
)

func TestUnitName(t *testing.T) {
	client := api.ConfigEntry{Path: "/etc/frp/edge-a.toml", Kind: api.KindClient}
	assert.Equal(t, "frpc@edge-a.service", UnitName(client))

	server := api.ConfigEntry{Path: "/etc/frp/hub.ini", Kind: api.KindServer}
	assert.Equal(t, "frps@hub.service", UnitName(server))
}

func TestLifecycleItem_InvokesSystemctl(t *testing.T) {
	var mu sync.Mutex
	var calls [][]string
	fake := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, append([]string{name}, args...))
		return nil, nil
	}

	entry := api.ConfigEntry{Path: "/etc/frp/edge-a.toml", Kind: api.KindClient}
	item := LifecycleItem(entry, "restart", fake)
	require.NoError(t, item.Run(context.Background()))

	require.Len(t, calls, 1)
	assert.Equal(t, []string{"systemctl", "restart", "frpc@edge-a.service"}, calls[0])
}

func TestLifecycleItem_FailureCarriesCommandOutput(t *testing.T) {
	fake := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("Failed to restart frpc@edge-a.service: Unit not found.\n"), errors.New("exit status 5")
	}
	entry := api.ConfigEntry{Path: "/etc/frp/edge-a.toml", Kind: api.KindClient}

	err := LifecycleItem(entry, "restart", fake).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unit not found")
	assert.NotContains(t, err.Error(), "exit status 5", "command output supersedes the bare exit error")
}

func TestLifecycleItems_WholeSelection(t *testing.T) {
	var mu sync.Mutex
	units := map[string]bool{}
	fake := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		units[args[len(args)-1]] = true
		return nil, nil
	}

	entries := []api.ConfigEntry{
		{Path: "/etc/frp/edge-a.toml", Kind: api.KindClient},
		{Path: "/etc/frp/edge-b.toml", Kind: api.KindClient},
		{Path: "/etc/frp/hub.toml", Kind: api.KindServer},
	}
	items := LifecycleItems(entries, "stop", fake)
	require.Len(t, items, 3)

	report := Run(context.Background(), items, DefaultLifecycleWorkers, nil)
	require.NoError(t, report.Err())
	assert.Equal(t, map[string]bool{
		"frpc@edge-a.service": true,
		"frpc@edge-b.service": true,
		"frps@hub.service":    true,
	}, units)
}
