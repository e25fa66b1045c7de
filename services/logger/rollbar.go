package logsvc

import (
	"fmt"
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/user"
)

type RollbarLogger struct {
	std     *log.Logger
	enabled bool
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewRollbarLogger reports to rollbar when a token is configured and the app is not in debug mode; everything is
// also written to std.
func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	enabled := conf.RollbarToken != "" && !conf.Debug && !conf.TestMode
	rollbar.SetEnabled(enabled)
	if enabled {
		rollbar.SetToken(conf.RollbarToken)
		rollbar.SetEnvironment(conf.Env)
		rollbar.SetServerHost(conf.Server.Host)
		rollbar.SetCodeVersion(conf.Build)
		rollbar.SetStackTracer(errors.StackTracer)
	}
	return &RollbarLogger{std: std, enabled: enabled}
}

// Close waits for the queued rollbar items to be sent.
func (l *RollbarLogger) Close() {
	if l.enabled {
		rollbar.Close()
	}
}

// expected args: error, map[string]interface{}, user.User
func (l *RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if !usrSet {
				rollbar.SetPerson(a.ID, a.Name, a.Email)
				usrSet = true
			}
		case *user.User:
			if !usrSet && a != nil {
				rollbar.SetPerson(a.ID, a.Name, a.Email)
				usrSet = true
			}
		default:
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l *RollbarLogger) print(level, msg string, args []interface{}) {
	l.std.Printf("%s: %s", level, msg)
	for _, arg := range args {
		switch arg.(type) {
		case user.User, *user.User:
			continue
		}
		l.std.Printf("%+v\n", arg)
	}
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	if l.enabled {
		rollbar.Debug(l.prepare(msg, args)...)
	}
	l.print("DEBUG", msg, args)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	if l.enabled {
		rollbar.Info(l.prepare(msg, args)...)
	}
	l.print("INFO", msg, args)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	if l.enabled {
		rollbar.Warning(l.prepare(msg, args)...)
	}
	l.print("WARN", msg, args)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	if l.enabled {
		rollbar.Error(l.prepare(msg, args)...)
	}
	l.print("ERROR", msg, args)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	if l.enabled {
		rollbar.Critical(l.prepare(msg, args)...)
		rollbar.Close()
	}
	l.print("FATAL", msg, args)
	l.std.Fatal(fmt.Sprint("shutting down: ", msg))
}
