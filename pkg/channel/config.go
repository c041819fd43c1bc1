package channel

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Default email gateway endpoints (QQ Mail SMTP).
const (
	DefaultSMTPHost     = "smtp.qq.com"
	DefaultSMTPPort     = 587 // STARTTLS
	DefaultSMTPSSLPort  = 465 // direct SSL
	DefaultPushEndpoint = "https://sctapi.ftqq.com"
)

// Config is the validated settings for one delivery channel. A config that
// is enabled but does not validate must never reach a send attempt; the hub
// routes such channels straight to the disabled state.
type Config interface {
	Kind() Kind
	Enabled() bool
	Validate() error
}

// Valid reports whether the config passes validation.
func Valid(c Config) bool {
	return c != nil && c.Validate() == nil
}

// EmailConfig holds the SMTP gateway credentials for the email channel.
// Secret is the gateway authorization key, not the account password.
type EmailConfig struct {
	Address   string `json:"address"`
	Secret    string `json:"secret"`
	Recipient string `json:"recipient"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	SSLPort   int    `json:"ssl_port"`
	Enable    bool   `json:"enabled"`
}

// Kind returns KindEmail.
func (c EmailConfig) Kind() Kind { return KindEmail }

// Enabled reports whether the channel is switched on.
func (c EmailConfig) Enabled() bool { return c.Enable }

// Validate checks the required fields and the address shapes.
func (c EmailConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Address, validation.Required, is.Email),
		validation.Field(&c.Secret, validation.Required),
		validation.Field(&c.Recipient, validation.Required, is.Email),
	)
}

// SMTPHost returns the configured host or the default gateway.
func (c EmailConfig) SMTPHost() string {
	if c.Host != "" {
		return c.Host
	}
	return DefaultSMTPHost
}

// SMTPPort returns the STARTTLS port.
func (c EmailConfig) SMTPPort() int {
	if c.Port != 0 {
		return c.Port
	}
	return DefaultSMTPPort
}

// SMTPSSLPort returns the direct-SSL port.
func (c EmailConfig) SMTPSSLPort() int {
	if c.SSLPort != 0 {
		return c.SSLPort
	}
	return DefaultSMTPSSLPort
}

// PushConfig holds the access key for the push gateway channel.
type PushConfig struct {
	AccessKey string `json:"access_key"`
	Endpoint  string `json:"endpoint"`
	Enable    bool   `json:"enabled"`
}

// Kind returns KindPush.
func (c PushConfig) Kind() Kind { return KindPush }

// Enabled reports whether the channel is switched on.
func (c PushConfig) Enabled() bool { return c.Enable }

// Validate checks that an access key is present.
func (c PushConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.AccessKey, validation.Required),
		validation.Field(&c.Endpoint, is.URL),
	)
}

// GatewayEndpoint returns the configured gateway base URL or the default.
func (c PushConfig) GatewayEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return DefaultPushEndpoint
}
