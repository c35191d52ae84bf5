package models

// Event names every lifecycle notification the orchestrator emits. The same
// names flow to the per-recipient notifier and the issue-events stream.
type Event string

const (
	EventIssueCreated        Event = "issue_created"
	EventIssueAssigned       Event = "issue_assigned"
	EventIssueUnassigned     Event = "issue_unassigned"
	EventIssueStarted        Event = "issue_started"
	EventResolutionSubmitted Event = "resolution_submitted"
	EventIssueClosed         Event = "issue_closed"
	EventNoExpertNow         Event = "no_expert_now"
	EventIssueDeleted        Event = "issue_deleted"
	EventExpertRated         Event = "expert_rated"
)
