// Package postmark implements email.Sender on the Postmark API.
package postmark
