package analytics

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LoggingSink is a RequestSink/LogSink that writes batches to a logger
// instead of a real analytics store. The schema and backend of the
// analytics store are out of scope; this sink exists so the runtime is
// exercisable end to end without one.
type LoggingSink struct {
	Log *logrus.Entry
}

func (s *LoggingSink) InsertRequests(ctx context.Context, rows []RequestRow) error {
	for _, row := range rows {
		s.Log.WithFields(logrus.Fields{
			"deployment_id":   row.DeploymentID,
			"function_id":     row.FunctionID,
			"region":          row.Region,
			"status":          row.StatusCode,
			"bytes_in":        row.BytesIn,
			"bytes_out":       row.BytesOut,
			"cpu_time_micros": row.CPUTimeMicros,
		}).Info("request")
	}
	return nil
}

func (s *LoggingSink) InsertLogs(ctx context.Context, rows []LogRow) error {
	for _, row := range rows {
		s.Log.WithFields(logrus.Fields{
			"deployment_id": row.DeploymentID,
			"function_id":   row.FunctionID,
			"level":         row.Level,
		}).Info(row.Message)
	}
	return nil
}
