// Package plog implements a colorized logrus formatter for the packed
// storage module's debug traces (block boundaries, finalize summaries).
// It is never consulted for control flow.
package plog

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// moduleTag shortens a caller's absolute source path down to the part
// relative to this module's root, so log lines read
// "pkg/packedstorage/reader.go:42" rather than a full GOPATH-rooted path.
const moduleTag = "mdict-tools/"

var showPID = os.Getenv("PACKEDSTORAGE_LOG_SHOW_PID") != ""

func init() {
	color.NoColor = false
}

// FancyLogFormatter renders a logrus.Entry as a single colorized line:
// timestamp, level glyph, optional PID, caller location, message, and any
// structured fields.
type FancyLogFormatter struct {
	UseColors bool
}

// levelStyle pairs a level's one-glyph marker with the color function used
// to render it and any text colored the same way.
type levelStyle struct {
	glyph string
	paint func(string, ...interface{}) string
}

var styles = map[logrus.Level]levelStyle{
	logrus.DebugLevel: {"⚙", color.CyanString},
	logrus.InfoLevel:  {"⚐", color.GreenString},
	logrus.WarnLevel:  {"⚠", color.YellowString},
	logrus.ErrorLevel: {"⚡", color.RedString},
	logrus.FatalLevel: {"☣", color.MagentaString},
	logrus.PanicLevel: {"☠", color.MagentaString},
}

func paint(level logrus.Level, useColors bool, s string) string {
	st, ok := styles[level]
	if !ok || !useColors {
		return s
	}
	return st.paint(s)
}

// findCaller walks the call stack looking for the first frame outside of
// logrus and this package, so the reported file:line points at the packedstorage
// call site that produced the log entry rather than somewhere inside
// logrus's own dispatch code.
func findCaller() (file string, line int, ok bool) {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		inLogrus := strings.Contains(frame.Function, "sirupsen/logrus")
		inThisPackage := strings.Contains(frame.Function, "internal/plog")
		if !inLogrus && !inThisPackage {
			if idx := strings.LastIndex(frame.File, moduleTag); idx >= 0 {
				return frame.File[idx+len(moduleTag):], frame.Line, true
			}
			return frame.File, frame.Line, true
		}
		if !more {
			break
		}
	}
	return "", 0, false
}

func writeFields(buf *bytes.Buffer, level logrus.Level, useColors bool, fields logrus.Fields) {
	if len(fields) == 0 {
		return
	}

	buf.WriteString(" [")
	first := true
	for key, value := range fields {
		if !first {
			buf.WriteByte(' ')
		}
		first = false

		buf.WriteString(paint(level, useColors, key))
		buf.WriteByte('=')
		fmt.Fprintf(buf, "%v", value)
	}
	buf.WriteByte(']')
}

// Format implements logrus.Formatter.
func (f *FancyLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	buf := &bytes.Buffer{}

	prefix := formatTimestamp(entry.Time) + " " + styles[entry.Level].glyph
	buf.WriteString(paint(entry.Level, f.UseColors, prefix))

	if showPID {
		fmt.Fprintf(buf, " [%d]", os.Getpid())
	}

	if file, line, ok := findCaller(); ok {
		fmt.Fprintf(buf, " %s:%d:", file, line)
	}

	buf.WriteByte(' ')
	buf.WriteString(entry.Message)
	writeFields(buf, entry.Level, f.UseColors, entry.Data)
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

func formatTimestamp(t time.Time) string {
	return fmt.Sprintf("%02d.%02d.%04d/%02d:%02d:%02d",
		t.Day(), t.Month(), t.Year(), t.Hour(), t.Minute(), t.Second())
}
