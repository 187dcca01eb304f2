package migration

// SkipReason says why a legacy file produced no entry.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipExtension
	SkipUnreadable
	SkipMalformed
	SkipNoBalance
	SkipUnsupportedBalance
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipExtension:
		return "extension"
	case SkipUnreadable:
		return "unreadable"
	case SkipMalformed:
		return "malformed"
	case SkipNoBalance:
		return "no-balance"
	case SkipUnsupportedBalance:
		return "unsupported-balance"
	default:
		return "unknown"
	}
}

// SkipHook observes skip decisions. It runs on the walking goroutine and must
// not block for long.
type SkipHook func(path string, reason SkipReason)
