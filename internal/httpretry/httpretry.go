// Package httpretry builds retrying HTTP clients that log through zap.
package httpretry

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient returns a retryablehttp client with its default policy, logging retries at debug level to log.
func NewClient(log *zap.SugaredLogger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = &logAdapter{SugaredLogger: log}
	return c
}
