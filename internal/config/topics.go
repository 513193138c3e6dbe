package config

const (
	// TopicIngestFile is the NSQ topic the external pipeline workers consume
	// ingestion tasks from.
	TopicIngestFile = "ingest.task.file"

	// TopicPipelineEvents is the NSQ topic the pipeline publishes per-upload
	// log and status frames to.
	TopicPipelineEvents = "pipeline.events"
)
