package logging

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// CronLogger adapts a Logger to robfig/cron's logging interface
type CronLogger struct {
	logger Logger
}

var _ cron.Logger = (*CronLogger)(nil)

// NewCronLogger wraps logger for use with cron.WithLogger and the job wrappers
func NewCronLogger(logger Logger) *CronLogger {
	return &CronLogger{logger: OrGlobal(logger)}
}

// Info logs routine scheduler messages at debug level; cron is chatty
func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, pairsToFields(keysAndValues)...)
}

// Error logs scheduler errors, including recovered job panics
func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error(msg, err, pairsToFields(keysAndValues)...)
}

func pairsToFields(keysAndValues []interface{}) []Field {
	fields := make([]Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		var value interface{}
		if i+1 < len(keysAndValues) {
			value = keysAndValues[i+1]
		}
		fields = append(fields, Field{Key: key, Value: value})
	}
	return fields
}
