// Package chatlog provides the append-only message log owned by a single
// conversation.
//
// A Log only grows. Messages are value types and are never edited after
// Append returns. Readers get copies from Messages, so renderers can never
// mutate the log directly.
//
// When its conversation closes, the log is sealed and handed to the caller,
// who may archive it or drop it:
//
//	log := chatlog.New()
//	log.Append(chatlog.NewMessage(chatlog.RoleUser, "hi"))
//	log.Seal()
//	_, err := log.Append(...) // ErrSealed
package chatlog
