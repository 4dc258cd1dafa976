package otel

const (
	Prefix                  = "zenflow-"
	AttributeInstanceKey    = Prefix + "instance-key"
	AttributeDefinitionId   = Prefix + "definition-id"
	AttributeVersion        = Prefix + "definition-version"
	AttributeActivityId     = Prefix + "activity-id"
	AttributeActivityType   = Prefix + "activity-type"
	AttributeBranchKey      = Prefix + "branch-key"
	AttributeBookmark       = Prefix + "bookmark"
	AttributeJobKey         = Prefix + "job-key"
	AttributeJobType        = Prefix + "job-type"
	AttributeTimerKey       = Prefix + "timer-key"
	AttributeEventName      = Prefix + "event-name"
	AttributeInstanceStatus = Prefix + "instance-status"
)
