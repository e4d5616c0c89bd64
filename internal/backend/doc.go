// Package backend is the request/response boundary to the remote
// conversational-AI service.
//
// # Wire contract
//
//	POST /chat/start                 -> {"conversation_id": 42, "messages": []}
//	POST /chat/  {conversation_id, user_query, influencer_name}
//	                                 -> {"ai_response": "...", "retrieved_context": [...]}
//	GET  /chat/history/{id}          -> {"conversation_id": 42, "messages": [{role, content}]}
//
// # Errors
//
// Every failure maps onto one of three sentinels, matched with errors.Is:
//
//   - ErrUnavailable: transport failure (connection refused, DNS, reset)
//   - ErrTimeout: the deadline passed while waiting for a turn reply
//   - ErrRejected: non-2xx status or a body that does not decode
//
// The client never retries; retry policy belongs to the caller.
package backend
