package domain

// Gmail system labels.
const (
	LabelInbox   = "INBOX"
	LabelUnread  = "UNREAD"
	LabelStarred = "STARRED"
)

// User labels the app creates on demand.
const (
	LabelNameTodo    = "TODO"
	LabelNameDone    = "DONE"
	LabelNameSnoozed = "Snoozed"
)

// RequiredLabels are created in every mailbox on first listing.
var RequiredLabels = []string{LabelNameTodo, LabelNameDone, LabelNameSnoozed}

// Mailbox is a label as shown in the sidebar.
type Mailbox struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Unread int64  `json:"unread"`
}
