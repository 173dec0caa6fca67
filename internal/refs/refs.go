// Package refs maps change numbers onto the refs/changes namespace and
// parses the refs/for push targets clients use to request review.
package refs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known ref namespaces.
const (
	ForPrefix     = "refs/for/"
	ChangesPrefix = "refs/changes/"
	HeadsPrefix   = "refs/heads/"
	TagsPrefix    = "refs/tags/"
)

var (
	// ErrMalformedTarget indicates a refs/for target that cannot be parsed.
	ErrMalformedTarget = errors.New("malformed refs/for target")
	// ErrMalformedOption indicates a push option that cannot be parsed.
	ErrMalformedOption = errors.New("malformed push option")
)

// Change returns the virtual ref for a patch set. For change 1234 patch set 1
// the ref is refs/changes/34/1234/1: the middle element is the last two digits
// of the change number, zero padded, which spreads refs across directories.
func Change(number int64, patchSet int) string {
	return fmt.Sprintf("%s%02d/%d/%d", ChangesPrefix, number%100, number, patchSet)
}

// ParseChange parses a refs/changes/NN/N/P ref. ok is false for refs outside
// the namespace or with a shard that does not match the change number.
func ParseChange(ref string) (number int64, patchSet int, ok bool) {
	rest, found := strings.CutPrefix(ref, ChangesPrefix)
	if !found {
		return 0, 0, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return 0, 0, false
	}
	number, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || number <= 0 {
		return 0, 0, false
	}
	if parts[0] != fmt.Sprintf("%02d", number%100) {
		return 0, 0, false
	}
	patchSet, err = strconv.Atoi(parts[2])
	if err != nil || patchSet <= 0 {
		return 0, 0, false
	}
	return number, patchSet, true
}

// IsVirtual reports whether ref is a refs/for push target.
func IsVirtual(ref string) bool {
	return strings.HasPrefix(ref, ForPrefix)
}

// IsBranch reports whether ref names a real branch.
func IsBranch(ref string) bool {
	return strings.HasPrefix(ref, HeadsPrefix)
}

// BranchRef returns the full refs/heads name for a branch. Short names are
// qualified; already qualified names are returned unchanged.
func BranchRef(branch string) string {
	if strings.HasPrefix(branch, HeadsPrefix) {
		return branch
	}
	return HeadsPrefix + branch
}

// ShortBranch strips the refs/heads prefix if present.
func ShortBranch(ref string) string {
	return strings.TrimPrefix(ref, HeadsPrefix)
}
