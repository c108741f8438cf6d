// SPDX-License-Identifier: MIT

package videos

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/streamhib/restreamd/internal/session"
)

// downloadTimeout bounds one gdown fetch. Large Drive videos routinely
// take many minutes.
const downloadTimeout = 30 * time.Minute

const gdownBinary = "gdown"

// Runner executes an external command and captures its output. It is an
// interface so unit tests can observe the exact gdown invocations.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.String(), errb.String(), err
}

var driveIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`),
}

var bareDriveID = regexp.MustCompile(`^[a-zA-Z0-9_-]{20,}$`)

// ExtractDriveID pulls the file id out of a Google Drive share URL, or
// accepts a bare id.
func ExtractDriveID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("%w: drive file id or URL required", session.ErrInvalidInput)
	}
	if strings.Contains(input, "drive.google.com") {
		for _, re := range driveIDPatterns {
			if m := re.FindStringSubmatch(input); m != nil {
				return m[1], nil
			}
		}
		return "", fmt.Errorf("%w: no file id found in drive URL", session.ErrInvalidInput)
	}
	if bareDriveID.MatchString(input) {
		return input, nil
	}
	return "", fmt.Errorf("%w: %q is not a drive file id or URL", session.ErrInvalidInput, input)
}

// Download fetches a video from Google Drive into the library via gdown
// and returns the name of the new file. An empty name with a nil error
// means the fetch succeeded but produced nothing new (gdown treats an
// already-present file as success). The listing lock is not held while
// the fetch runs.
func (s *Store) Download(ctx context.Context, input string) (string, error) {
	id, err := ExtractDriveID(input)
	if err != nil {
		return "", err
	}

	before, err := s.snapshotNames()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	url := fmt.Sprintf("https://drive.google.com/uc?id=%s&export=download", id)
	args := []string{url, "-O", s.dir + string(os.PathSeparator), "--no-cookies", "--quiet", "--continue"}
	s.log.Info().
		Str("event", "videos.download").
		Str("file_id", id).
		Msg("fetching video from drive")
	if _, stderr, err := s.run.Run(ctx, gdownBinary, args...); err != nil {
		s.log.Error().
			Err(err).
			Str("file_id", id).
			Str("stderr", firstLine(stderr)).
			Msg("video download failed")
		return "", fmt.Errorf("download %s: %w", id, err)
	}

	after, err := s.snapshotNames()
	if err != nil {
		return "", err
	}
	var fresh string
	for name := range after {
		if !before[name] {
			fresh = name
			break
		}
	}
	s.dirty.Store(true)
	if fresh == "" {
		s.log.Warn().
			Str("file_id", id).
			Msg("download reported success but produced no new file")
		return "", nil
	}

	// Drive files without an extension would be invisible to the
	// listing filter; gdown names them after their id.
	if filepath.Ext(fresh) == "" {
		renamed := fresh + ".mp4"
		if err := os.Rename(filepath.Join(s.dir, fresh), filepath.Join(s.dir, renamed)); err != nil {
			s.log.Warn().Err(err).Str("video", fresh).Msg("renaming extensionless download failed")
		} else {
			fresh = renamed
		}
	}
	s.log.Info().
		Str("event", "videos.downloaded").
		Str("file_id", id).
		Str("video", fresh).
		Msg("video downloaded")
	return fresh, nil
}

func (s *Store) snapshotNames() (map[string]bool, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = true
		}
	}
	return names, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
