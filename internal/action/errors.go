package action

import "errors"

// ErrUnknownActionType names the unknown_action_type condition. ExecuteAction
// does not return it: an envelope whose actionType is not one of the known
// types yields an Invalid result instead, per the "always returns a
// structured result, never throws" contract.
var ErrUnknownActionType = errors.New("unknown_action_type")
