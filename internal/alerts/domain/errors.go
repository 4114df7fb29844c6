package alerts

import "errors"

// ErrNotFound indicates a missing alert definition.
var ErrNotFound = errors.New("alert: not found")

// ErrEvaluation marks a per-alert evaluation failure that must not abort
// sibling alerts or the device state commit.
var ErrEvaluation = errors.New("alert: evaluation failed")
