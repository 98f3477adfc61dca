package schema

// Event type constants for the map event log.
const (
	EventMapDefined = "map_defined"
	EventMapDeleted = "map_deleted"

	EventItemAdded   = "item_added"
	EventItemRemoved = "item_removed"

	EventRelationshipAdded    = "relationship_added"
	EventRelationshipRemoved  = "relationship_removed"
	EventRelationshipRejected = "relationship_rejected"

	EventItemStarted    = "item_started"
	EventItemCompleted  = "item_completed"
	EventItemsUnblocked = "items_unblocked"

	EventAnalysisSnapshot = "analysis_snapshot"
)
