package channels

import (
	"strings"
	"time"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
)

const timeLayout = time.RFC3339

func severityEmoji(severity alerting.Severity) string {
	switch severity {
	case alerting.SeverityInfo:
		return ":information_source:"
	case alerting.SeverityWarning:
		return ":warning:"
	case alerting.SeverityError:
		return ":red_circle:"
	case alerting.SeverityCritical:
		return ":rotating_light:"
	default:
		return ":bell:"
	}
}

func upper(s string) string {
	return strings.ToUpper(s)
}
