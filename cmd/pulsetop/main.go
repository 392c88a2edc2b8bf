// pulsetop is a live terminal view of a running pulse bridge
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/e7canasta/pulse-bridge/internal/api"
	"github.com/e7canasta/pulse-bridge/internal/types"
)

const historySize = 120

var metrics = []types.Metric{types.MetricRSS, types.MetricPeak, types.MetricAvg, types.MetricSum}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:10001", "pulse bridge API base URL")
	interval := flag.Duration("interval", time.Second, "refresh interval")
	flag.Parse()

	client := api.NewClient(*addr, *interval)

	if err := ui.Init(); err != nil {
		log.Fatalf("failed to init termui: %v", err)
	}
	defer ui.Close()

	table := widgets.NewTable()
	table.Title = " Pulse channels "
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = false
	table.BorderStyle.Fg = ui.ColorGreen
	table.Rows = [][]string{header()}

	rateLine := widgets.NewSparkline()
	rateLine.LineColor = ui.ColorYellow
	rateLine.TitleStyle.Fg = ui.ColorYellow
	rateGroup := widgets.NewSparklineGroup(rateLine)
	rateGroup.Title = " pulse_rate "
	rateGroup.BorderStyle.Fg = ui.ColorYellow

	status := widgets.NewParagraph()
	status.Title = " Bridge "
	status.BorderStyle.Fg = ui.ColorCyan
	status.Text = "connecting to " + *addr

	grid := ui.NewGrid()
	termWidth, termHeight := ui.TerminalDimensions()
	grid.SetRect(0, 0, termWidth, termHeight)
	grid.Set(
		ui.NewRow(0.45,
			ui.NewCol(0.65, table),
			ui.NewCol(0.35, status),
		),
		ui.NewRow(0.55, ui.NewCol(1.0, rateGroup)),
	)
	ui.Render(grid)

	var history []float64

	uiEvents := ui.PollEvents()
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case e := <-uiEvents:
			if e.Type == ui.KeyboardEvent && (e.ID == "q" || e.ID == "<C-c>") {
				return
			}
			if e.Type == ui.ResizeEvent {
				payload := e.Payload.(ui.Resize)
				grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				ui.Render(grid)
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), *interval)
			values, err := client.Values(ctx)
			health, herr := client.Health(ctx)
			cancel()

			if err != nil {
				status.Text = fmt.Sprintf("[error](fg:red) %v", err)
				ui.Render(grid)
				continue
			}

			byName := make(map[string]api.ValueJSON, len(values.Values))
			for _, v := range values.Values {
				byName[v.Name] = v
			}

			table.Rows = channelRows(byName)

			rate := intValue(byName[types.RateFieldName])
			if len(history) >= historySize {
				history = history[1:]
			}
			history = append(history, float64(rate))
			rateLine.Data = history
			rateGroup.Title = fmt.Sprintf(" pulse_rate (now: %d | peak: %.0f) ", rate, maxOf(history))

			status.Text = statusText(values, health, herr)
			ui.Render(grid)
		}
	}
}

func header() []string {
	row := []string{"Channel"}
	for _, m := range metrics {
		row = append(row, m.String())
	}
	return row
}

func channelRows(byName map[string]api.ValueJSON) [][]string {
	rows := [][]string{header()}
	for ch := 1; ch <= types.NumChannels; ch++ {
		row := []string{fmt.Sprintf("Ch%d", ch)}
		for _, m := range metrics {
			v := byName[fmt.Sprintf("Ch%d_%s", ch, m)]
			if v.Value == nil {
				row = append(row, "-")
				continue
			}
			row = append(row, v.Value.String())
		}
		rows = append(rows, row)
	}
	return rows
}

func statusText(values api.ValuesJSON, health api.HealthStatus, herr error) string {
	var b strings.Builder
	if herr != nil {
		fmt.Fprintf(&b, "health: [%v](fg:red)\n", herr)
	} else {
		color := "green"
		switch health.Status {
		case "degraded":
			color = "yellow"
		case "unhealthy":
			color = "red"
		}
		fmt.Fprintf(&b, "instance: %s\n", health.InstanceID)
		fmt.Fprintf(&b, "status:   [%s](fg:%s)\n", health.Status, color)
		fmt.Fprintf(&b, "bridge:   %s  run %s\n", health.Bridge.State, shortID(health.Bridge.RunID))
		fmt.Fprintf(&b, "blocks:   %d  dropped %d\n", health.Bridge.Capture.BlocksPublished, health.Bridge.Capture.BlocksDropped)
		fmt.Fprintf(&b, "mean:     %.1f/interval  stable %v\n", health.Bridge.Rate.Mean, health.Bridge.Rate.IsStable)
	}
	fmt.Fprintf(&b, "version:  %d\n", values.Version)

	for _, v := range values.Values {
		if strings.HasPrefix(v.Name, "Ch") || v.Name == types.RateFieldName {
			continue
		}
		val := v.Status
		if v.Value != nil {
			val = v.Value.String()
		}
		fmt.Fprintf(&b, "%s = %s\n", v.Name, val)
	}
	return b.String()
}

func intValue(v api.ValueJSON) int32 {
	if v.Value == nil {
		return 0
	}
	return v.Value.Int
}

func maxOf(data []float64) float64 {
	m := 0.0
	for _, v := range data {
		if v > m {
			m = v
		}
	}
	return m
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
