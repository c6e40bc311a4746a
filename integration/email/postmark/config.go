package postmark

// Config is the Postmark sender configuration.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"POSTMARK_SENDER_EMAIL"`
	SupportEmail         string `env:"POSTMARK_SUPPORT_EMAIL"`
}

// Enabled reports whether enough is configured to send through Postmark.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != ""
}
