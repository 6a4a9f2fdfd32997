package git

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// minGitVersion covers "rev-parse --git-path" and "log --date-order" with
// "%aI" dates.
var minGitVersion = gitVersion{major: 2, minor: 13, patch: 0}

type gitVersion struct {
	major int
	minor int
	patch int
}

func (v gitVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

func (v gitVersion) less(other gitVersion) bool {
	if v.major != other.major {
		return v.major < other.major
	}
	if v.minor != other.minor {
		return v.minor < other.minor
	}
	return v.patch < other.patch
}

// Matches "git version 2.44.0", "git version 2.39.3 (Apple Git-146)" and
// "git version 2.39.3.windows.1".
var gitVersionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

func parseGitVersionOutput(out string) (gitVersion, bool) {
	m := gitVersionRe.FindStringSubmatch(strings.TrimSpace(out))
	if m == nil {
		return gitVersion{}, false
	}
	var v gitVersion
	v.major, _ = strconv.Atoi(m[1])
	v.minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.patch, _ = strconv.Atoi(m[3])
	}
	return v, true
}

func validateGitVersionOutput(out string) error {
	got, ok := parseGitVersionOutput(out)
	if !ok {
		return fmt.Errorf("unable to parse git version output: %q", strings.TrimSpace(out))
	}
	if got.less(minGitVersion) {
		return fmt.Errorf("git %s is too old; gitgraph requires git >= %s", got, minGitVersion)
	}
	return nil
}

var ensureMinGitVersion = sync.OnceValue(func() error {
	raw, err := exec.Command("git", "--version").CombinedOutput()
	out := strings.TrimSpace(string(raw))
	if err != nil {
		if out != "" {
			return fmt.Errorf("git --version: %v: %s", err, out)
		}
		return fmt.Errorf("git --version: %w", err)
	}
	return validateGitVersionOutput(out)
})
