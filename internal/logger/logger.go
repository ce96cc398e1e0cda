// Package logger provides the leveled loggers shared by every package.
package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Package-level loggers. They write to stdout until Init is called.
var (
	Info  = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	Warn  = log.New(os.Stdout, "WARN: ", log.Ldate|log.Ltime|log.Lshortfile)
	Error = log.New(os.Stdout, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	Debug = log.New(os.Stdout, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
)

// Init points all loggers at stdout and, when logDir is set, at a
// timestamped file inside logDir as well. The returned closer releases
// the file and is safe to call when no file was opened.
func Init(logDir string) (io.Closer, error) {
	var out io.Writer = os.Stdout
	var file *os.File

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return nil, err
		}
		name := filepath.Join(logDir, time.Now().Format("2006-01-02_15-04-05")+".log")
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec
		if err != nil {
			return nil, err
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}

	SetOutput(out)
	return closerFunc(func() error {
		if file == nil {
			return nil
		}
		return file.Close()
	}), nil
}

// SetOutput redirects every logger to w. Tests use it with io.Discard.
func SetOutput(w io.Writer) {
	Info.SetOutput(w)
	Warn.SetOutput(w)
	Error.SetOutput(w)
	Debug.SetOutput(w)
}

// SetLogLevel discards Debug output in production.
func SetLogLevel(env string) {
	if env == "production" {
		Debug.SetOutput(io.Discard)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
