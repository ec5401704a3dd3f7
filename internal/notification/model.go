package notification

// EventTypeStatusChanged is the single event type emitted on the stream.
const EventTypeStatusChanged = "report_status_changed"

// Event notifies a reporter that one of their reports changed state.
// IsCascade is true when the change arrived through the reporter's cluster
// representative rather than a direct update.
type Event struct {
	ReportID  string `json:"reportId"`
	Status    string `json:"status"`
	Remark    string `json:"remark"`
	IsCascade bool   `json:"isCascade"`
}
