package api

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrAuthTokenInvalid  = errors.New("invalid auth message")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// Environment variables read by NewAuthenticatorFromEnv.
const (
	EnvAuthEnabled = "CONSENSUS_AUTH_ENABLED"
	EnvAuthToken   = "CONSENSUS_AUTH_TOKEN"
)

// AuthMessageType is the Type of a handshake AuthMessage.
const AuthMessageType = "auth"

// AuthMessage is the first frame a client sends when auth is enabled.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthResponse answers an AuthMessage.
type AuthResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled determines if authentication is required
	Enabled bool `yaml:"enabled"`
	// Token is the secret token that clients must provide
	Token string `yaml:"token"`
}

// Authenticator guards the batch endpoint with a shared token. It is
// immutable once built and safe for concurrent use.
type Authenticator struct {
	enabled bool
	token   string
	digest  [sha256.Size]byte
}

// NewAuthenticator creates an Authenticator. If auth is enabled without a
// token, a random token is generated; read it back with GetToken.
func NewAuthenticator(config AuthConfig) *Authenticator {
	if config.Enabled && config.Token == "" {
		config.Token = GenerateToken()
	}
	return &Authenticator{
		enabled: config.Enabled,
		token:   config.Token,
		digest:  sha256.Sum256([]byte(config.Token)),
	}
}

// NewAuthenticatorFromEnv creates an Authenticator from CONSENSUS_AUTH_ENABLED
// and CONSENSUS_AUTH_TOKEN.
func NewAuthenticatorFromEnv() *Authenticator {
	enabled := os.Getenv(EnvAuthEnabled) == "true" || os.Getenv(EnvAuthEnabled) == "1"

	return NewAuthenticator(AuthConfig{
		Enabled: enabled,
		Token:   os.Getenv(EnvAuthToken),
	})
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// GetToken returns the configured or generated token.
func (a *Authenticator) GetToken() string {
	return a.token
}

// ValidateToken checks provided against the configured token. Both sides
// are hashed first so the comparison time depends on neither length.
func (a *Authenticator) ValidateToken(provided string) error {
	if !a.enabled {
		return nil
	}
	if provided == "" {
		return ErrAuthRequired
	}

	got := sha256.Sum256([]byte(provided))
	if subtle.ConstantTimeCompare(a.digest[:], got[:]) != 1 {
		return ErrAuthTokenMismatch
	}
	return nil
}

// ValidateMessage decodes an auth handshake frame and validates its token.
func (a *Authenticator) ValidateMessage(frame []byte) error {
	var msg AuthMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthTokenInvalid, err)
	}
	if msg.Type != AuthMessageType {
		return fmt.Errorf("%w: unexpected type %q", ErrAuthTokenInvalid, msg.Type)
	}
	return a.ValidateToken(msg.Token)
}

// Accept runs the server side of the handshake: it reads one AuthMessage
// frame, answers with an AuthResponse and returns the validation error.
// Handshake frames are limited to a few kilobytes. Accept does nothing when
// auth is disabled.
func (a *Authenticator) Accept(rw io.ReadWriter) error {
	if !a.enabled {
		return nil
	}

	frame, err := readFrame(rw, maxAuthFrameSize)
	if err != nil {
		if errors.Is(err, ErrMessageTooLarge) {
			_ = writeAuthResponse(rw, err)
		}
		return err
	}

	authErr := a.ValidateMessage(frame)
	if err := writeAuthResponse(rw, authErr); err != nil {
		return err
	}
	return authErr
}

func writeAuthResponse(w io.Writer, authErr error) error {
	resp := AuthResponse{Success: authErr == nil}
	if authErr != nil {
		resp.Error = authErr.Error()
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return WriteMessage(w, payload)
}

// Handshake runs the client side: it sends token and waits for the server's
// verdict. A rejection is returned wrapped in ErrAuthFailed.
func Handshake(rw io.ReadWriter, token string) error {
	msg, err := json.Marshal(AuthMessage{Type: AuthMessageType, Token: token})
	if err != nil {
		return err
	}
	if err := WriteMessage(rw, msg); err != nil {
		return err
	}

	frame, err := readFrame(rw, maxAuthFrameSize)
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	var resp AuthResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrAuthFailed, resp.Error)
	}
	return nil
}

// GenerateToken generates a cryptographically secure random token.
func GenerateToken() string {
	b := make([]byte, 32) // 256 bits
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}
