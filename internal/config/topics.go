package config

const (
	// TopicIngest is the NSQ topic carrying webpage ingestion jobs.
	TopicIngest = "ragme.ingest"
)
