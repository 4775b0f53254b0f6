package log

import (
	"fmt"
	"path"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// formatter renders entries from a pattern. Supported placeholders:
//
//	%time %level %msg %n
//	%packet  "#<id>" when the entry carries a packet ID
//	%layer   "<tag>@<offset>" when the entry carries a layer
//	%field   remaining fields as k=v, sorted by key
//	%caller  package/file:line of the logging call
//
// Fields rendered by %packet or %layer are left out of %field. A line
// always ends in a newline.
type formatter struct {
	pattern string
	time    string
	claimed map[string]bool
}

func newFormatter(pattern, layout string) *formatter {
	if pattern == "" {
		pattern = defaultPattern
	}
	f := &formatter{pattern: pattern, time: timeLayout(layout), claimed: map[string]bool{}}
	if strings.Contains(pattern, "%packet") {
		f.claimed[FieldPacket] = true
	}
	if strings.Contains(pattern, "%layer") {
		f.claimed[FieldLayer] = true
		f.claimed[FieldOffset] = true
	}
	return f
}

func (f *formatter) reportsCaller() bool {
	return strings.Contains(f.pattern, "%caller")
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var caller string
	if f.reportsCaller() {
		caller = callerOf()
	}
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", entry.Level.String(),
		"%packet", packetOf(entry),
		"%layer", layerOf(entry),
		"%field", f.fields(entry),
		"%caller", caller,
		"%msg", entry.Message,
		"%n", "\n",
	)
	// a placeholder that renders empty takes its separating space with it
	tokens := strings.Split(f.pattern, " ")
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if s := r.Replace(t); s != "" || t == "" {
			out = append(out, s)
		}
	}
	line := strings.Join(out, " ")
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	return []byte(line), nil
}

func packetOf(entry *logrus.Entry) string {
	v, ok := entry.Data[FieldPacket]
	if !ok {
		return ""
	}
	return fmt.Sprintf("#%v", v)
}

func layerOf(entry *logrus.Entry) string {
	tag, ok := entry.Data[FieldLayer]
	if !ok {
		return ""
	}
	if off, ok := entry.Data[FieldOffset]; ok {
		return fmt.Sprintf("%v@%v", tag, off)
	}
	return fmt.Sprint(tag)
}

// callerOf returns the first frame outside logrus and this package's
// adapter and formatter.
func callerOf() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if !internalFrame(fr.Function) {
			pkg := path.Base(fr.Function)
			if i := strings.Index(pkg, "."); i > 0 {
				pkg = pkg[:i]
			}
			return fmt.Sprintf("%s/%s:%d", pkg, path.Base(fr.File), fr.Line)
		}
		if !more {
			return "unknown"
		}
	}
}

func internalFrame(fn string) bool {
	if strings.HasPrefix(fn, "github.com/sirupsen/logrus") {
		return true
	}
	name := path.Base(fn)
	for _, s := range []string{"log.(*logrusAdapter)", "log.(*formatter)", "log.callerOf"} {
		if strings.HasPrefix(name, s) {
			return true
		}
	}
	return false
}

func (f *formatter) fields(entry *logrus.Entry) string {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if !f.claimed[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+fmt.Sprint(entry.Data[k]))
	}
	return strings.Join(out, ",")
}
