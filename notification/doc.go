// Package notification turns email requests from the auth and order services
// into emails. Delivery is best effort: a message is acknowledged once the
// mailer was called, whether or not the mail server accepted it.
package notification
