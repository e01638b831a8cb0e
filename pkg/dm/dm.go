// Package dm declares the dialog manager adapter the policy loop queries
// for response text. The core treats every Source as a black box: the only
// guarantee it makes is that the same context is passed regardless of
// which turn-taking policy variant is active.
package dm

import "context"

// Source ranks or generates an utterance given the dialog context so far.
// Context is cns.Memory.DialogText(), possibly with the live user utterance
// appended.
type Source interface {
	GetResponse(ctx context.Context, context []string) (utterance string, ended bool, metadata interface{}, err error)
}
