package contracts

// Topics the connector publishes to.
const (
	// TopicBuildsPosted carries a BuildPostedEvent per created build.
	// Key: job path
	TopicBuildsPosted = "bldbridge.builds.posted"
	// TopicRunsCompleted carries a RunCompletedEvent per processed configuration.
	// Key: config name
	TopicRunsCompleted = "bldbridge.runs.completed"
)
