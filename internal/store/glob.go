package store

import "path"

// matchGlob evaluates a shell-style glob (the same syntax path.Match
// supports) against branch. Separated from Trigger.MatchesTrigger so it
// can be swapped for a richer matcher later without touching callers.
func matchGlob(pattern, branch string) (bool, error) {
	return path.Match(pattern, branch)
}
