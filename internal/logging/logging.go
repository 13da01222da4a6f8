package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
)

// Init builds the global sugared logger from LOG_LEVEL and redirects the
// standard library logger into zap. Safe to call multiple times.
func Init() *zap.SugaredLogger {
	once.Do(func() {
		var logger *zap.Logger
		if strings.ToLower(os.Getenv("LOG_LEVEL")) == "debug" {
			logger, _ = zap.NewDevelopment()
		} else {
			logger, _ = zap.NewProduction()
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
	})
	return sugar
}

func Debugw(msg string, kv ...interface{}) { Init().Debugw(msg, kv...) }
func Infow(msg string, kv ...interface{})  { Init().Infow(msg, kv...) }
func Warnw(msg string, kv ...interface{})  { Init().Warnw(msg, kv...) }
func Errorw(msg string, kv ...interface{}) { Init().Errorw(msg, kv...) }
