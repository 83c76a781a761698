// Package classify maps a logical path to the filesystem class the virtual
// environment dispatches on: data file, log file, or everything else.
package classify

import (
	"regexp"
	"strings"
)

// Class is the disjoint category a path falls into.
type Class int

const (
	// Other covers manifests, the identity file, current-markers, locks,
	// and directories.
	Other Class = iota
	// Data identifies an immutable SST data file.
	Data
	// Log identifies a write-ahead-log segment.
	Log
)

// String returns the name used in logs and error context.
func (c Class) String() string {
	switch c {
	case Data:
		return "data"
	case Log:
		return "log"
	default:
		return "other"
	}
}

var (
	// dataFilePattern matches a numeric engine-sequence followed by the
	// SST extension, optionally prefixed by an epoch remap ("E.seq.sst").
	dataFilePattern = regexp.MustCompile(`^(?:\d+\.)?\d+\.sst$`)
	// logFilePattern matches a numeric engine-sequence WAL segment.
	logFilePattern = regexp.MustCompile(`^(?:\d+\.)?\d+\.log$`)
	// epochRemappedPattern matches the full "<epoch>.<seq>.<ext>" shape so
	// the epoch component can be told apart from the file's own
	// engine-sequence number (both are bare digit runs).
	epochRemappedPattern = regexp.MustCompile(`^\d+\.(\d+\.(?:sst|log))$`)
)

// Classify inspects the base name of path (directories are ignored) and
// returns which of {Data, Log, Other} it belongs to.
func Classify(path string) Class {
	name := baseName(path)

	switch {
	case dataFilePattern.MatchString(name):
		return Data
	case logFilePattern.MatchString(name):
		return Log
	default:
		return Other
	}
}

// StripEpoch removes a leading epoch-prefix ("<epoch>.") used by the
// cloud-manifest's name remapping, returning the name unchanged if no such
// prefix is present. A bare "<seq>.sst"/"<seq>.log" name (no epoch
// component) is left untouched: the leading digit run there is the file's
// own engine-sequence number, not an epoch, and must not be stripped.
func StripEpoch(name string) string {
	if m := epochRemappedPattern.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return name
}

// WithEpoch prepends epoch to name, producing the remapped key under which
// a data or log file for that epoch is actually stored.
func WithEpoch(epoch, name string) string {
	return epoch + "." + StripEpoch(name)
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
