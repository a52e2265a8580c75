// Package ffmpeg builds argument lists for the ffmpeg/ffprobe binaries and
// supervises the subprocesses that run them.
package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Command is one fully-resolved subprocess invocation.
type Command struct {
	Path string
	Args []string
	// Env is appended to the parent environment.
	Env []string
}

// Name returns the base name of the binary, for logs.
func (c Command) Name() string {
	name := c.Path
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// String renders the command line with header values redacted.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	redactNext := false
	for _, a := range c.Args {
		if redactNext {
			parts = append(parts, "<redacted>")
			redactNext = false
			continue
		}
		if a == "-headers" {
			redactNext = true
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

func (c Command) environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	return append(os.Environ(), c.Env...)
}

// Binaries holds resolved paths to the media tools.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// LocateBinaries resolves ffmpeg and ffprobe. Non-empty overrides are used as-is.
func LocateBinaries(ffmpegOverride, ffprobeOverride string) (Binaries, error) {
	ff, err := Locate("ffmpeg", ffmpegOverride)
	if err != nil {
		return Binaries{}, err
	}
	fp, err := Locate("ffprobe", ffprobeOverride)
	if err != nil {
		return Binaries{}, err
	}
	return Binaries{FFmpeg: ff, FFprobe: fp}, nil
}

// Locate finds a binary by override, then PATH, then common install locations.
func Locate(name, override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("%s override %q: %w", name, override, err)
		}
		return override, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{"/opt/homebrew/bin/" + name, "/usr/local/bin/" + name}
	case "linux":
		paths = []string{"/usr/bin/" + name, "/usr/local/bin/" + name}
	case "windows":
		paths = []string{`C:\ffmpeg\bin\` + name + ".exe"}
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%s not found in PATH or common locations", name)
}
