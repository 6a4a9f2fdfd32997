//go:build gitcli

package git

// Backend names the repository reader Open uses.
const Backend = "git"

// Open opens the repository containing repoPath through the git binary.
func Open(repoPath string) (Source, error) {
	return OpenCLI(repoPath)
}
