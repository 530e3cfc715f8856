// Package notify sends the "door is still open" text message through a
// Twilio-compatible messaging API. Sending never fails the caller: every
// problem is logged and reported in the returned Result.
package notify
