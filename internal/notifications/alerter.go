// Package notifications delivers administrative alerts over SMTP.
package notifications

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig configures the outbound SMTP connection for alerts.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Admins     []string
	Encryption string // "none", "starttls", or "smtps"
	Timeout    time.Duration
}

// SMTPAlerter sends alert mail to the configured admin addresses.
type SMTPAlerter struct {
	cfg SMTPConfig

	// dial is swapped in tests.
	dial func(cfg SMTPConfig) (smtpClient, error)
}

type smtpClient interface {
	Hello(localName string) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (writeCloser, error)
	Quit() error
	Close() error
}

type writeCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

// NewSMTPAlerter builds an alerter. The config is validated lazily on send
// so that a misconfigured alerter degrades to send errors rather than
// failing startup.
func NewSMTPAlerter(cfg SMTPConfig) *SMTPAlerter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPAlerter{cfg: cfg, dial: dialSMTP}
}

// NotifyAdmins sends a plain-text alert to every configured admin address.
func (a *SMTPAlerter) NotifyAdmins(subject, body string) error {
	if len(a.cfg.Admins) == 0 {
		return errors.New("smtp alerter: no admin recipients configured")
	}
	if a.cfg.Host == "" {
		return errors.New("smtp alerter: no host configured")
	}

	client, err := a.dial(a.cfg)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer client.Close()

	if a.cfg.Username != "" {
		auth := smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.Host)
		if err := client.Auth(auth); err != nil {
			// Some servers only advertise LOGIN.
			if err := client.Auth(loginAuth(a.cfg.Username, a.cfg.Password)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(a.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range a.cfg.Admins {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	msg := buildAlertMessage(a.cfg.From, a.cfg.Admins, subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func buildAlertMessage(from string, to []string, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.String()
}

func dialSMTP(cfg SMTPConfig) (smtpClient, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialer := &net.Dialer{Timeout: cfg.Timeout}

	var conn net.Conn
	var err error
	if strings.EqualFold(cfg.Encryption, "smtps") {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: cfg.Host})
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if strings.EqualFold(cfg.Encryption, "starttls") {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			client.Close()
			return nil, err
		}
	}
	return &stdSMTPClient{client}, nil
}

// stdSMTPClient adapts *smtp.Client to the narrower smtpClient interface.
type stdSMTPClient struct {
	*smtp.Client
}

func (c *stdSMTPClient) Data() (writeCloser, error) {
	return c.Client.Data()
}

// loginAuth implements the LOGIN mechanism for servers that reject PLAIN.
type loginAuthImpl struct {
	username, password string
}

func loginAuth(username, password string) smtp.Auth {
	return &loginAuthImpl{username, password}
}

func (a *loginAuthImpl) Start(*smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte(a.username), nil
}

func (a *loginAuthImpl) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:":
		return []byte(a.username), nil
	case "password:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
	}
}
