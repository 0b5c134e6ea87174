package email

import "fmt"

// Config holds the mail account. It is embedded in the top-level
// Hearth config under the "email" YAML key.
type Config struct {
	IMAP IMAPConfig `yaml:"imap"`
	SMTP SMTPConfig `yaml:"smtp"`

	// From is the sender for outbound mail, e.g. "Hearth <me@example.com>".
	From string `yaml:"from"`

	// AllowedRecipients may always be sent to. Addresses found in the
	// CardDAV address book are allowed as well.
	AllowedRecipients []string `yaml:"allowed_recipients"`

	// BccOwner receives a blind copy of every outbound message unless
	// already a recipient.
	BccOwner string `yaml:"bcc_owner"`
}

// Configured reports whether any part of the account is set up.
func (c Config) Configured() bool {
	return c.IMAPConfigured() || c.SMTPConfigured()
}

// IMAPConfigured reports whether inbox listing is available.
func (c Config) IMAPConfigured() bool {
	return c.IMAP.Host != "" && c.IMAP.Username != ""
}

// SMTPConfigured reports whether sending is available.
func (c Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Username != ""
}

// ApplyDefaults fills zero-value fields with sensible defaults.
// Called by the parent config's applyDefaults method.
func (c *Config) ApplyDefaults() {
	if c.IMAP.Host != "" {
		if c.IMAP.Port == 0 {
			c.IMAP.Port = 993
		}
		// TLS unless the port is the plaintext convention.
		if !c.IMAP.TLS && c.IMAP.Port != 143 {
			c.IMAP.TLS = true
		}
	}
	if c.SMTP.Host != "" {
		if c.SMTP.Port == 0 {
			c.SMTP.Port = 587
		}
		if !c.SMTP.StartTLS && c.SMTP.Port != 465 {
			c.SMTP.StartTLS = true
		}
	}
}

// Validate checks that the email configuration is internally consistent.
func (c Config) Validate() error {
	if c.IMAP.Host != "" {
		if c.IMAP.Username == "" {
			return fmt.Errorf("email.imap.username is required when email.imap.host is set")
		}
		if c.IMAP.Port < 1 || c.IMAP.Port > 65535 {
			return fmt.Errorf("email.imap.port %d out of range (1-65535)", c.IMAP.Port)
		}
	}
	if c.SMTP.Host != "" {
		if c.SMTP.Username == "" {
			return fmt.Errorf("email.smtp.username is required when email.smtp.host is set")
		}
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			return fmt.Errorf("email.smtp.port %d out of range (1-65535)", c.SMTP.Port)
		}
		if c.From == "" {
			return fmt.Errorf("email.from is required when smtp is configured")
		}
	}
	return nil
}

// IMAPConfig holds IMAP server connection parameters.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // Default: 993
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"` // Default: true unless port 143
}

// SMTPConfig holds SMTP server connection parameters.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // Default: 587
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// StartTLS upgrades a plain connection. Default true; false means
	// implicit TLS (port 465).
	StartTLS bool `yaml:"starttls"`
}
