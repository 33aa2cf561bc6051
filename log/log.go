package log

import (
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
)

const (
	// Only situations that are not expected to happen and are difficult to handle
	LevelError = "error"
	// Non-critical situations that might happen, but shouldn't (e.g. unknown service)
	LevelWarn = "warn"
	// Situations that are expected, but important for the operation
	LevelInfo = "info"
	// Everything, including every dispatched request
	LevelDebug = "debug"
)

var (
	defaultLogger logger.Logger
	defaultLock   sync.Mutex
	random        = rand.New(rand.NewSource(time.Now().UnixNano()))
	randomLock    sync.Mutex
)

// New creates a console logger with the given name and level name.
func New(name, level string) (logger.Logger, error) {
	switch strings.ToLower(level) {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
	case "":
		level = LevelInfo
	default:
		return nil, errors.Errorf("Invalid log level %q. Must be one of error / warn / info / debug", level)
	}

	loggerInstance, err := nucliozap.NewNuclioZapCmd(name, nucliozap.GetLevelByName(strings.ToLower(level)), os.Stdout)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create logger")
	}
	return loggerInstance, nil
}

// Default returns the process-wide logger used by components that were not
// handed one explicitly. It is created on first use at info level.
func Default() logger.Logger {
	defaultLock.Lock()
	defer defaultLock.Unlock()

	if defaultLogger == nil {
		loggerInstance, err := New("zmp", LevelInfo)
		if err != nil {
			panic(err)
		}
		defaultLogger = loggerInstance
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l logger.Logger) {
	defaultLock.Lock()
	defaultLogger = l
	defaultLock.Unlock()
}

// Or returns l, or the default logger when l is nil.
func Or(l logger.Logger) logger.Logger {
	if l != nil {
		return l
	}
	return Default()
}

func mapToChar(i int) byte {
	i = i % (10 + 26 + 26)
	if i < 10 {
		return byte('0' + i)
	} else if i < 10+26 {
		return byte('A' + i - 10)
	} else if i < 10+26+26 {
		return byte('a' + i - 10 - 26)
	}
	return byte('_')
}

// Returns a short random alphanumeric string.
// Nodes tag each dispatched request with one so its log lines can be followed.
func GetLogToken() string {
	randomLock.Lock()
	defer randomLock.Unlock()

	str := make([]byte, 6)
	for i := range str {
		str[i] = mapToChar(random.Int())
	}
	return string(str)
}
