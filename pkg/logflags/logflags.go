package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var kernel = false
var transport = false
var locator = false
var walker = false
var console = false

var logOut io.WriteCloser

// pacing is the delay inserted after every debug message, zero disables it.
var pacing time.Duration

// sleep is replaced by tests.
var sleep = time.Sleep

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	if pacing > 0 {
		logger.Logger.AddHook(&pacingHook{delay: pacing})
	}
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Kernel returns true if task port acquisition should be logged.
func Kernel() bool {
	return kernel
}

// KernelLogger returns a logger for task port acquisition.
func KernelLogger() Logger {
	return makeFlaggableLogger(kernel, Fields{"layer": "kernel"})
}

// Transport returns true if every chunked read and write should be logged.
func Transport() bool {
	return transport
}

// TransportLogger returns a logger for the chunked transport.
func TransportLogger() Logger {
	return makeFlaggableLogger(transport, Fields{"layer": "transport"})
}

// Locator returns true if the kernel base locator should log.
func Locator() bool {
	return locator
}

// LocatorLogger returns a logger for the kernel base locator.
func LocatorLogger() Logger {
	return makeFlaggableLogger(locator, Fields{"layer": "locator"})
}

// Walker returns true if the region walker should log every query.
func Walker() bool {
	return walker
}

// WalkerLogger returns a logger for the region walker.
func WalkerLogger() Logger {
	return makeFlaggableLogger(walker, Fields{"layer": "walker"})
}

// Console returns true if the interactive console should log.
func Console() bool {
	return console
}

// ConsoleLogger returns a logger for the interactive console.
func ConsoleLogger() Logger {
	return makeFlaggableLogger(console, Fields{"layer": "console"})
}

// SetPacing makes every enabled logger sleep for d after each debug
// message. It gives a remote terminal time to deliver the output before
// a kernel panic takes the device down.
func SetPacing(d time.Duration) {
	pacing = d
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "kmem-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "kernel,transport"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "Help about logging flags" in commands.go.
		switch logcmd {
		case "kernel":
			kernel = true
		case "transport":
			transport = true
		case "locator":
			locator = true
		case "walker":
			walker = true
		case "console":
			console = true
		case "all":
			kernel, transport, locator, walker, console = true, true, true, true, true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'kmem help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// pacingHook sleeps after every entry it fires on.
type pacingHook struct {
	delay time.Duration
}

func (h *pacingHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.DebugLevel}
}

func (h *pacingHook) Fire(*logrus.Entry) error {
	sleep(h.delay)
	return nil
}

// textFormatter writes entries as
//
//	2006-01-02T15:04:05Z07:00 debug layer=transport msg
type textFormatter struct{}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString(entry.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	for _, k := range keys {
		fmt.Fprintf(b, "%s=%v ", k, entry.Data[k])
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}
