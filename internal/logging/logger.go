package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logrus instance.
var Logger = logrus.New()

var once sync.Once

/*
InitLogger configures the global logger once. When LOG_FILE is set the
output rotates via lumberjack; otherwise it stays on stderr, which is
what the dev setup and the tests want. LOG_LEVEL falls back to info on
anything unparseable.
*/
func InitLogger() {
	once.Do(func() {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

		level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
		if err != nil {
			level = logrus.InfoLevel
		}
		Logger.SetLevel(level)

		if logFile := os.Getenv("LOG_FILE"); logFile != "" {
			Logger.SetOutput(&lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
	})
}
