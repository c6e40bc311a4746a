// Package email defines the Sender contract used by notification delivery.
// DevSender saves messages to disk for local runs; integration/email/postmark
// sends them through Postmark.
package email
