//go:build !gitcli

package git

// Backend names the repository reader Open uses.
const Backend = "go-git"

// Open opens the repository containing repoPath with go-git.
func Open(repoPath string) (Source, error) {
	return OpenNative(repoPath)
}
