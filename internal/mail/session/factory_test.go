package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultFactoryProtocolDispatch(t *testing.T) {
	f := DefaultFactory(nil, nil)

	sess, err := f.SessionFor(Account{Host: "h", Protocol: "IMAP"})
	require.NoError(t, err)
	require.IsType(t, &IMAPSession{}, sess)

	sess, err = f.SessionFor(Account{Host: "h", Protocol: "pop"})
	require.NoError(t, err)
	require.IsType(t, &POP3Session{}, sess)

	sess, err = f.SessionFor(Account{Host: "h", Protocol: "pop3"})
	require.NoError(t, err)
	require.IsType(t, &POP3Session{}, sess)

	_, err = f.SessionFor(Account{Host: "h", Protocol: "nntp"})
	require.ErrorContains(t, err, "no session registered")
}

func TestFactoryCustomBuilder(t *testing.T) {
	conn := &fakePOP3Conn{}
	f := NewFactory(WithBuilder(func(acc Account) Session {
		return NewPOP3Session(acc, withPOP3ConnFactory(func(Account) (pop3Conn, error) {
			return conn, nil
		}))
	}, "pop3"))

	sess, err := f.SessionFor(Account{Host: "h", Protocol: "POP"})
	require.NoError(t, err)
	require.NoError(t, sess.Connect())
}
