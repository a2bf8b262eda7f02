package relay

import "fmt"

// User-facing texts.
const (
	msgSignIn            = "Sign in to OneDrive so files shared with you are saved to your own drive:\n%s\n\nThe link is personal and expires soon. Do not share it."
	msgLinkSentPrivately = "I sent you a sign-in link in a private chat."
	msgAddFriendFirst    = "I could not message you privately. Add me as a friend, then send the file again."
	msgProcessingFailed  = "Sorry, something went wrong while processing that file. Please try again."
	msgLoggedOut         = "You are signed out. Files will no longer be saved to your OneDrive."
	msgAggregate         = "Saved to %d of %d drive(s)."
)

// Notification is the per-recipient result message.
type Notification struct {
	RecipientID   string
	Success       bool
	DisplayName   string
	ViewURL       string
	FailureReason Reason
}

// notificationFor builds the notification for one outcome.
func notificationFor(o Outcome) Notification {
	n := Notification{RecipientID: o.UserID, Success: o.Success(), FailureReason: o.Reason}
	if o.File != nil {
		n.DisplayName = o.File.DisplayName
		n.ViewURL = o.File.ViewURL
	}

	return n
}

// Text renders the notification as a chat message.
func (n Notification) Text() string {
	if n.Success {
		if n.ViewURL == "" {
			return fmt.Sprintf("Saved %s to your OneDrive.", n.DisplayName)
		}

		return fmt.Sprintf("Saved %s to your OneDrive:\n%s", n.DisplayName, n.ViewURL)
	}

	switch n.FailureReason {
	case ReasonUnauthenticated:
		return "A file was shared with you, but you are not signed in to OneDrive."
	case ReasonUploadRejected:
		return "OneDrive refused to save a file shared with you. Your sign-in may have been revoked."
	default:
		return "A file shared with you could not be saved to OneDrive. Please try again later."
	}
}

// needsSignIn reports whether the recipient should get a fresh sign-in prompt.
func (n Notification) needsSignIn() bool {
	return n.FailureReason == ReasonUnauthenticated || n.FailureReason == ReasonUploadRejected
}
