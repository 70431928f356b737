package api

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAuthenticatorGeneratesToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true})
	require.True(t, auth.IsEnabled())
	require.Len(t, auth.GetToken(), 64)

	disabled := NewAuthenticator(AuthConfig{})
	require.False(t, disabled.IsEnabled())
	require.Empty(t, disabled.GetToken())
}

func TestValidateToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, Token: "s3cret"})

	require.NoError(t, auth.ValidateToken("s3cret"))
	require.ErrorIs(t, auth.ValidateToken(""), ErrAuthRequired)
	require.ErrorIs(t, auth.ValidateToken("s3cre"), ErrAuthTokenMismatch)

	disabled := NewAuthenticator(AuthConfig{})
	require.NoError(t, disabled.ValidateToken("anything"))
}

func TestValidateMessage(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, Token: "s3cret"})

	ok, err := json.Marshal(AuthMessage{Type: AuthMessageType, Token: "s3cret"})
	require.NoError(t, err)
	require.NoError(t, auth.ValidateMessage(ok))

	wrongType, err := json.Marshal(AuthMessage{Type: "hello", Token: "s3cret"})
	require.NoError(t, err)
	require.ErrorIs(t, auth.ValidateMessage(wrongType), ErrAuthTokenInvalid)

	require.ErrorIs(t, auth.ValidateMessage([]byte("{")), ErrAuthTokenInvalid)
}

func TestNewAuthenticatorFromEnv(t *testing.T) {
	t.Setenv(EnvAuthEnabled, "true")
	t.Setenv(EnvAuthToken, "from-env")

	auth := NewAuthenticatorFromEnv()
	require.True(t, auth.IsEnabled())
	require.Equal(t, "from-env", auth.GetToken())

	t.Setenv(EnvAuthEnabled, "0")
	require.False(t, NewAuthenticatorFromEnv().IsEnabled())
}

func TestGenerateTokenUnique(t *testing.T) {
	require.NotEqual(t, GenerateToken(), GenerateToken())
}

// acceptAsync runs the server side of the handshake on one end of a pipe.
func acceptAsync(auth *Authenticator, conn net.Conn) <-chan error {
	done := make(chan error, 1)
	go func() { done <- auth.Accept(conn) }()
	return done
}

func TestHandshake(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, Token: "s3cret"})

	t.Run("accepted", func(t *testing.T) {
		server, client := net.Pipe()
		defer server.Close()
		defer client.Close()

		done := acceptAsync(auth, server)
		require.NoError(t, Handshake(client, "s3cret"))
		require.NoError(t, <-done)
	})

	t.Run("rejected", func(t *testing.T) {
		server, client := net.Pipe()
		defer server.Close()
		defer client.Close()

		done := acceptAsync(auth, server)
		err := Handshake(client, "wrong")
		require.ErrorIs(t, err, ErrAuthFailed)
		require.ErrorContains(t, err, ErrAuthTokenMismatch.Error())
		require.ErrorIs(t, <-done, ErrAuthTokenMismatch)
	})

	t.Run("oversized frame", func(t *testing.T) {
		server, client := net.Pipe()
		defer server.Close()
		defer client.Close()

		done := acceptAsync(auth, server)

		// Only the header is sent; the server must refuse without reading a body.
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, maxAuthFrameSize+1)
		_, err := client.Write(header)
		require.NoError(t, err)

		reply, err := ReadMessage(client)
		require.NoError(t, err)
		var resp AuthResponse
		require.NoError(t, json.Unmarshal(reply, &resp))
		require.False(t, resp.Success)
		require.ErrorIs(t, <-done, ErrMessageTooLarge)
	})
}

func TestAcceptDisabledReadsNothing(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	require.NoError(t, NewAuthenticator(AuthConfig{}).Accept(server))
}
