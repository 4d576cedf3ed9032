package notifications

import (
	"bytes"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeData struct {
	buf      bytes.Buffer
	closed   bool
	writeErr error
}

func (d *fakeData) Write(p []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	return d.buf.Write(p)
}

func (d *fakeData) Close() error { d.closed = true; return nil }

type fakeSMTPClient struct {
	auths    []smtp.Auth
	authErrs []error // one per Auth call, nil past the end
	from     string
	rcpts    []string
	rcptErr  error
	data     fakeData
	quit     bool
	closed   bool
}

func (c *fakeSMTPClient) Hello(string) error { return nil }

func (c *fakeSMTPClient) Auth(a smtp.Auth) error {
	c.auths = append(c.auths, a)
	if len(c.authErrs) >= len(c.auths) {
		return c.authErrs[len(c.auths)-1]
	}
	return nil
}

func (c *fakeSMTPClient) Mail(from string) error { c.from = from; return nil }

func (c *fakeSMTPClient) Rcpt(to string) error {
	if c.rcptErr != nil {
		return c.rcptErr
	}
	c.rcpts = append(c.rcpts, to)
	return nil
}

func (c *fakeSMTPClient) Data() (writeCloser, error) { return &c.data, nil }
func (c *fakeSMTPClient) Quit() error                { c.quit = true; return nil }
func (c *fakeSMTPClient) Close() error               { c.closed = true; return nil }

func newTestAlerter(client *fakeSMTPClient, cfg SMTPConfig) *SMTPAlerter {
	a := NewSMTPAlerter(cfg)
	a.dial = func(SMTPConfig) (smtpClient, error) { return client, nil }
	return a
}

func testSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host:   "smtp.example.com",
		Port:   587,
		From:   "alerts@example.com",
		Admins: []string{"root@example.com", "ops@example.com"},
	}
}

func TestNotifyAdminsSendsMessage(t *testing.T) {
	client := &fakeSMTPClient{}
	a := newTestAlerter(client, testSMTPConfig())

	require.NoError(t, a.NotifyAdmins("Mail Fetch Failure Alert", "the body"))

	require.Equal(t, "alerts@example.com", client.from)
	require.Equal(t, []string{"root@example.com", "ops@example.com"}, client.rcpts)
	require.True(t, client.data.closed)
	require.True(t, client.quit)
	require.True(t, client.closed)
	require.Empty(t, client.auths)

	msg := client.data.buf.String()
	require.Contains(t, msg, "From: alerts@example.com\r\n")
	require.Contains(t, msg, "To: root@example.com, ops@example.com\r\n")
	require.Contains(t, msg, "Subject: Mail Fetch Failure Alert\r\n")
	require.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n")
	require.Contains(t, msg, "\r\n\r\nthe body\r\n")
}

func TestNotifyAdminsAuthenticates(t *testing.T) {
	client := &fakeSMTPClient{}
	cfg := testSMTPConfig()
	cfg.Username = "alerts"
	cfg.Password = "secret"
	a := newTestAlerter(client, cfg)

	require.NoError(t, a.NotifyAdmins("subject", "body"))
	require.Len(t, client.auths, 1)
}

func TestNotifyAdminsFallsBackToLogin(t *testing.T) {
	client := &fakeSMTPClient{authErrs: []error{errors.New("504 unrecognized authentication type")}}
	cfg := testSMTPConfig()
	cfg.Username = "alerts"
	cfg.Password = "secret"
	a := newTestAlerter(client, cfg)

	require.NoError(t, a.NotifyAdmins("subject", "body"))
	require.Len(t, client.auths, 2)
	require.IsType(t, &loginAuthImpl{}, client.auths[1])
	require.True(t, client.quit)
}

func TestNotifyAdminsAuthFailure(t *testing.T) {
	client := &fakeSMTPClient{authErrs: []error{
		errors.New("535 bad credentials"),
		errors.New("535 bad credentials"),
	}}
	cfg := testSMTPConfig()
	cfg.Username = "alerts"
	cfg.Password = "wrong"
	a := newTestAlerter(client, cfg)

	err := a.NotifyAdmins("subject", "body")
	require.ErrorContains(t, err, "smtp auth")
	require.True(t, client.closed)
	require.False(t, client.quit)
}

func TestNotifyAdminsValidation(t *testing.T) {
	a := NewSMTPAlerter(SMTPConfig{Host: "smtp.example.com"})
	require.ErrorContains(t, a.NotifyAdmins("s", "b"), "no admin recipients")

	a = NewSMTPAlerter(SMTPConfig{Admins: []string{"root@example.com"}})
	require.ErrorContains(t, a.NotifyAdmins("s", "b"), "no host")
}

func TestNotifyAdminsDialError(t *testing.T) {
	a := NewSMTPAlerter(testSMTPConfig())
	a.dial = func(SMTPConfig) (smtpClient, error) { return nil, errors.New("connection refused") }

	require.ErrorContains(t, a.NotifyAdmins("s", "b"), "smtp dial")
}

func TestNotifyAdminsRcptError(t *testing.T) {
	client := &fakeSMTPClient{rcptErr: errors.New("550 mailbox unavailable")}
	a := newTestAlerter(client, testSMTPConfig())

	require.ErrorContains(t, a.NotifyAdmins("s", "b"), "smtp rcpt root@example.com")
}

func TestLoginAuthChallenges(t *testing.T) {
	auth := loginAuth("alerts", "secret")

	proto, initial, err := auth.Start(&smtp.ServerInfo{})
	require.NoError(t, err)
	require.Equal(t, "LOGIN", proto)
	require.Equal(t, []byte("alerts"), initial)

	resp, err := auth.Next([]byte("Username:"), true)
	require.NoError(t, err)
	require.Equal(t, []byte("alerts"), resp)

	resp, err = auth.Next([]byte("Password:"), true)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), resp)

	_, err = auth.Next([]byte("Challenge:"), true)
	require.Error(t, err)

	resp, err = auth.Next(nil, false)
	require.NoError(t, err)
	require.Nil(t, resp)
}
