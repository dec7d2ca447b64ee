package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", 30)

	tokenString, err := m.GenerateChatToken("client-42")
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	claims, err := m.VerifyChatToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "client-42", claims.ClientID)
}

func TestChatTokenWrongSecret(t *testing.T) {
	m1 := NewJWTManager("secret-a", 30)
	m2 := NewJWTManager("secret-b", 30)

	tokenString, err := m1.GenerateChatToken("client-42")
	require.NoError(t, err)

	_, err = m2.VerifyChatToken(tokenString)
	assert.Error(t, err)
}

func TestChatTokenGarbage(t *testing.T) {
	m := NewJWTManager("secret", 30)
	_, err := m.VerifyChatToken("not-a-jwt")
	assert.Error(t, err)
}

func TestGenerateRandomString(t *testing.T) {
	s1 := GenerateRandomString(16)
	s2 := GenerateRandomString(16)
	assert.Len(t, s1, 32) // 16 字节的十六进制表示
	assert.NotEqual(t, s1, s2)
}
