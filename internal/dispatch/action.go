package dispatch

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/agentic-research/frpfleet/api"
)

// Lifecycle actions accepted by the bulk command. Timeouts are delegated
// to systemd's own job timeout — the dispatcher does not add one here.
var LifecycleActions = map[string]bool{
	"start":   true,
	"stop":    true,
	"restart": true,
	"reload":  true,
}

// Runner executes an external command. Injectable so tests never fork
// systemctl.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner is the production Runner.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// UnitName derives the systemd template unit for a config: the frp
// convention of one instance per config file stem.
func UnitName(entry api.ConfigEntry) string {
	stem := strings.TrimSuffix(filepath.Base(entry.Path), filepath.Ext(entry.Path))
	if entry.Kind == api.KindServer {
		return "frps@" + stem + ".service"
	}
	return "frpc@" + stem + ".service"
}

// LifecycleItem builds a dispatcher item invoking one systemctl action.
func LifecycleItem(entry api.ConfigEntry, action string, run Runner) Item {
	return Item{
		ID: entry.Path,
		Run: func(ctx context.Context) error {
			out, err := run(ctx, "systemctl", action, UnitName(entry))
			if err != nil {
				msg := strings.TrimSpace(string(out))
				if msg == "" {
					return fmt.Errorf("systemctl %s: %w", action, err)
				}
				return fmt.Errorf("systemctl %s: %s", action, msg)
			}
			return nil
		},
	}
}

// LifecycleItems builds lifecycle items for a whole selection.
func LifecycleItems(entries []api.ConfigEntry, action string, run Runner) []Item {
	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, LifecycleItem(entry, action, run))
	}
	return items
}
