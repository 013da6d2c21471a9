package core

import "context"

// Notification action codes understood by the channel adapters.
const (
	ActionApproveTeacher = "approve_teacher"
	ActionApproveHod     = "approve_hod"
	ActionReject         = "reject"
)

type (
	// NotificationAction offers the recipient an inline decision prompt
	// where the transport supports it (e.g. chat buttons). Transports
	// without interactive affordances render the label as plain text.
	NotificationAction struct {
		Label     string
		Action    string
		RequestID string
	}

	// Notification targets a domain user by ID; resolution to an address
	// (email, chat) is the notifier's concern.
	Notification struct {
		Recipient string
		Subject   string
		Message   string
		Actions   []NotificationAction
	}

	// Notifier delivers notifications best-effort: delivery failures are
	// logged by implementations and never propagated to the caller.
	Notifier interface {
		Notify(ctx context.Context, n Notification)
	}
)
