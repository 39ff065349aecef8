package slack

// AlertInfo holds the data needed to build a group status transition
// notification.
type AlertInfo struct {
	AlertID     string
	Title       string
	Severity    string
	Description string
	Namespace   string
	Service     string
}
