// Package bulkops implements batch chunk mutations (tag/archive/delete/
// restore) with an audit-logged, time-boxed undo.
package bulkops

import "errors"

// ErrUndoWindowExpired is returned when Undo is called more than
// models.UndoWindow after the action was recorded.
var ErrUndoWindowExpired = errors.New("bulkops: undo window expired")

// ErrAlreadyUndone is returned when Undo is called twice on the same action.
var ErrAlreadyUndone = errors.New("bulkops: action already undone")
