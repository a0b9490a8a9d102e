package utils

import (
	"fmt"
	"time"

	"nodewatch/internal/constants"
)

func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours == 0 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	if minutes == 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	if hours == 1 {
		return fmt.Sprintf("1 hour %d minutes", minutes)
	}
	return fmt.Sprintf("%d hours %d minutes", hours, minutes)
}

// FormatLog returns a standardized status line for the terminal.
// If emoji is empty it is picked from the level.
func FormatLog(emoji, level, subject, detail string) string {
	color := constants.ColorDim
	if emoji == "" {
		switch level {
		case "ok":
			emoji, color = "✅", constants.ColorGreen
		case "warn":
			emoji, color = "⚠️ ", constants.ColorYellow
		case "error":
			emoji, color = "❌", constants.ColorRed
		default:
			emoji = "📥"
		}
	}

	return fmt.Sprintf("  %s %s%s%s %s%s%s\n",
		emoji,
		constants.ColorBold, subject, constants.ColorReset,
		color, detail, constants.ColorReset,
	)
}

func FormatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}
