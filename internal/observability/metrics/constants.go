// Package metrics provides constants used across metric definitions.
package metrics

// Operation names recorded through Recorder.
const (
	// OpInference is one model call.
	OpInference = "inference"
	// OpModelLoad is opening a model artifact.
	OpModelLoad = "model_load"
	// OpEmit is handing a result to a sink.
	OpEmit = "emit"
	// OpPublish is an MQTT publish.
	OpPublish = "mqtt_publish"
	// OpHistoryWrite is a history batch insert.
	OpHistoryWrite = "history_write"
)

// Status labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusDropped = "dropped"
)
