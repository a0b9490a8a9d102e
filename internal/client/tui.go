package client

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"nodewatch/internal/constants"
	"nodewatch/internal/hub"
	"nodewatch/internal/nodes"
	"nodewatch/internal/protocol"
	"nodewatch/internal/types"
	"nodewatch/internal/utils"
)

const (
	colorReset  = constants.ColorReset
	colorBold   = constants.ColorBold
	colorDim    = constants.ColorDim
	colorCyan   = constants.ColorCyan
	colorGreen  = constants.ColorGreen
	colorYellow = constants.ColorYellow
	colorRed    = constants.ColorRed
	colorPurple = constants.ColorPurple
)

func PrintBanner() {
	fmt.Println()
	fmt.Printf("  %s%snodewatch%s %sv%s%s\n", colorBold, colorCyan, colorReset, colorBold, constants.Version, colorReset)
	fmt.Printf("  %sNode fleet monitor%s\n", colorDim, colorReset)
	fmt.Println()
}

func PrintHint(text string) {
	fmt.Printf("  %s%s%s\n", colorDim, text, colorReset)
}

func PrintField(label, value, valueColor string) {
	fmt.Printf("  %s%-12s%s %s%s%s\n", colorDim, label, colorReset, valueColor, value, colorReset)
}

func PrintSep() {
	fmt.Printf("  %s%s%s\n", colorDim, strings.Repeat("─", 50), colorReset)
}

// Fail prints err and exits.
func Fail(format string, args ...interface{}) {
	fmt.Printf("\n  %s✗ %s%s\n\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}

// PrintEvent renders one hub event as a terminal status line.
func PrintEvent(evt hub.Event) {
	switch evt.Kind {
	case hub.EventState:
		level := ""
		switch evt.State {
		case types.StateAuthenticated, types.StateMonitoring:
			level = "ok"
		case types.StateReconnecting:
			level = "warn"
		case types.StateError:
			level = "error"
		case types.StateClosed:
			if evt.Err != nil {
				level = "error"
			}
		}
		detail := evt.Reason
		if evt.State == types.StateError || (evt.State == types.StateClosed && evt.Err != nil) {
			detail += " (press r to retry)"
		}
		fmt.Print(utils.FormatLog("", level, evt.State.String(), detail))

	case hub.EventError:
		fmt.Print(utils.FormatLog("", "warn", "server", evt.Reason))

	case hub.EventFrame:
		if evt.Frame.Type != protocol.TypeStatusUpdate {
			return
		}
		records, summary, err := nodes.Decode(evt.Frame)
		if err != nil {
			fmt.Print(utils.FormatLog("", "warn", "status", err.Error()))
			return
		}
		stats := nodes.Summarize(records)
		if summary != nil {
			stats = *summary
		}
		fmt.Print(utils.FormatLog("📊", "", "fleet", FleetLine(stats)))
	}
}

func FleetLine(s types.AggregateStats) string {
	return fmt.Sprintf("%d nodes  %d active  %d offline  %d pending  cpu %s  mem %s  earned %.2f",
		s.Total, s.Active, s.Offline, s.Pending,
		utils.FormatPercent(s.AvgCPU), utils.FormatPercent(s.AvgMemory), s.TotalEarnings)
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func statusStyle(s types.NodeStatus) lipgloss.Style {
	switch s {
	case types.NodeOffline:
		return offlineStyle
	case types.NodePending:
		return pendingStyle
	}
	return activeStyle
}

// NodeTable renders records as an aligned table.
func NodeTable(records []types.NodeRecord) string {
	var b strings.Builder
	b.WriteString("  " + headerStyle.Render(fmt.Sprintf("%-14s %-8s %6s %6s %6s %10s", "REFERENCE", "STATUS", "CPU", "MEM", "DISK", "EARNED")) + "\n")
	for _, n := range records {
		status := statusStyle(n.Status).Render(fmt.Sprintf("%-8s", n.Status))
		fmt.Fprintf(&b, "  %-14s %s %5d%% %5d%% %5d%% %s\n",
			n.ReferenceCode, status,
			n.Resources.CPU.Usage, n.Resources.Memory.Usage, n.Resources.Storage.Usage,
			dimStyle.Render(fmt.Sprintf("%10.2f", n.Earnings.Total)))
	}
	return b.String()
}

func PrintNodes(records []types.NodeRecord) {
	PrintSep()
	fmt.Print(NodeTable(records))
	PrintSep()
}
