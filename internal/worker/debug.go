package worker

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("CURIOUSMINDS_WORKER_DEBUG"), "1")

func debugLog(logger *zap.Logger, msg string, fields ...zap.Field) {
	if workerDebugEnabled {
		logger.Info(msg, fields...)
	}
}
