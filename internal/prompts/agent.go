package prompts

// WrapUpNudge is sent, with tools withheld, when the loop ends without
// the model having said anything to the user.
const WrapUpNudge = "You have run out of tool calls for this message. Reply to the user now with what you found or did, without calling any tools."

// EmptyResponseFallback is returned when the model produces no text at
// all, even after the wrap-up nudge.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."

// ApologyReply is returned when handling a message fails outright.
const ApologyReply = "Sorry, something went wrong while handling that. Please try again in a moment."
