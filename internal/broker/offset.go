package broker

import (
	"fmt"
	"strconv"
	"strings"
)

// parseStreamOffset extracts the numeric sequence component from a stream
// id. Redis-style compound ids ("<seq>-<counter>") are truncated to the
// sequence part. A negative offset clamps to zero rather than erroring,
// since it only ever arises from a stale or corrupted checkpoint that
// should be treated as "start from the beginning".
func parseStreamOffset(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if idx := strings.Index(s, "-"); idx > 0 {
		s = s[:idx]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("broker: invalid stream offset %q: %w", s, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// validateStreamOffset checks that a checkpoint value is well-formed before
// it is persisted, rejecting malformed or negative offsets outright instead
// of silently clamping them.
func validateStreamOffset(s string) error {
	if s == "" || s == "0" {
		return nil
	}

	parts := strings.SplitN(s, "-", 2)
	main := parts[0]
	if main == "" {
		return fmt.Errorf("broker: invalid stream offset %q", s)
	}

	n, err := strconv.ParseInt(main, 10, 64)
	if err != nil {
		return fmt.Errorf("broker: invalid stream offset %q: %w", s, err)
	}
	if n < 0 {
		return fmt.Errorf("broker: stream offset %q must not be negative", s)
	}
	if len(parts) == 2 && parts[1] == "" {
		return fmt.Errorf("broker: invalid stream offset %q: trailing separator", s)
	}
	return nil
}
