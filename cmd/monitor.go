package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"
	"github.com/webitel/alert-relay-service/internal/domain/model"
)

const monitorHistory = 60

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Live terminal dashboard over a running relay's /stats",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "http://localhost:3000",
				Usage: "Base URL of the relay HTTP ingress",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "Polling interval",
			},
		},
		Action: func(c *cli.Context) error {
			interval := c.Duration("interval")
			if err := validateInterval(interval); err != nil {
				return err
			}
			return runMonitor(c.Context, newStatsClient(c.String("addr")), interval)
		},
	}
}

func validateInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("monitor: --interval must be positive, got %s", d)
	}
	return nil
}

type statsClient struct {
	url  string
	http *http.Client
}

func newStatsClient(addr string) *statsClient {
	return &statsClient{
		url:  strings.TrimRight(addr, "/") + "/stats",
		http: &http.Client{Timeout: 2 * time.Second},
	}
}

func (c *statsClient) Fetch(ctx context.Context) (model.HubStats, error) {
	var stats model.HubStats

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return stats, fmt.Errorf("monitor: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return stats, fmt.Errorf("monitor: fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("monitor: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("monitor: decode stats: %w", err)
	}
	return stats, nil
}

// dashboard holds the widgets and the connection history.
type dashboard struct {
	summary *widgets.Paragraph
	conns   *widgets.Sparkline
	group   *widgets.SparklineGroup
	history []float64
}

func newDashboard(addr string) *dashboard {
	d := &dashboard{
		summary: widgets.NewParagraph(),
		conns:   widgets.NewSparkline(),
	}
	d.summary.Title = " alert relay: " + addr + " (q to quit) "
	d.summary.SetRect(0, 0, 70, 9)

	d.conns.Title = "connections"
	d.conns.LineColor = ui.ColorGreen
	d.group = widgets.NewSparklineGroup(d.conns)
	d.group.Title = " live connections "
	d.group.SetRect(0, 9, 70, 19)

	return d
}

func (d *dashboard) update(stats model.HubStats, err error) {
	if err != nil {
		d.summary.Text = "[unreachable](fg:red)\n" + err.Error()
		return
	}

	d.history = append(d.history, float64(stats.TotalConnections))
	if len(d.history) > monitorHistory {
		d.history = d.history[len(d.history)-monitorHistory:]
	}
	d.conns.Data = d.history

	d.summary.Text = formatStats(stats)
}

func formatStats(stats model.HubStats) string {
	return fmt.Sprintf(
		"bridge:            %s\n"+
			"connections:       %d\n"+
			"broadcasts:        %d\n"+
			"delivery failures: %d\n"+
			"uptime:            %s",
		stats.BridgeState,
		stats.TotalConnections,
		stats.Broadcasts,
		stats.DeliveryFailures,
		(time.Duration(stats.UptimeSeconds) * time.Second).String(),
	)
}

func runMonitor(ctx context.Context, client *statsClient, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("monitor: init terminal: %w", err)
	}
	defer ui.Close()

	d := newDashboard(client.url)
	refresh := func() {
		stats, err := client.Fetch(ctx)
		d.update(stats, err)
		ui.Render(d.summary, d.group)
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				ui.Clear()
				ui.Render(d.summary, d.group)
			}
		case <-ticker.C:
			refresh()
		}
	}
}
