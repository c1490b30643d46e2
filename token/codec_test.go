package token_test

import (
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/hotel-ops-gateway/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func signedToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("any-key"))
	require.NoError(t, err)
	return tok
}

func rawToken(payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." +
		enc.EncodeToString([]byte(payload)) + "." +
		enc.EncodeToString([]byte("sig"))
}

func TestDecodeExpiry(t *testing.T) {
	exp := testNow.Add(10 * time.Minute)
	tok := signedToken(t, jwtlib.MapClaims{"sub": "user-1", "exp": exp.Unix()})

	got, err := token.DecodeExpiry(tok)

	require.NoError(t, err)
	assert.True(t, exp.Equal(got))
}

func TestDecodeExpiry_IgnoresSignatureAndAlgorithm(t *testing.T) {
	exp := testNow.Add(time.Hour)
	enc := base64.RawURLEncoding
	tok := enc.EncodeToString([]byte(`{"alg":"made-up"}`)) + "." +
		enc.EncodeToString([]byte(`{"exp":`+strconv.FormatInt(exp.Unix(), 10)+`}`)) + ".not-a-signature"

	got, err := token.DecodeExpiry(tok)

	require.NoError(t, err)
	assert.Equal(t, exp.Unix(), got.Unix())
}

func TestDecodeExpiry_IgnoresUndecodableHeader(t *testing.T) {
	exp := testNow.Add(time.Hour)
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"exp":` + strconv.FormatInt(exp.Unix(), 10) + `}`))

	got, err := token.DecodeExpiry("!!!." + payload + ".sig")

	require.NoError(t, err)
	assert.Equal(t, exp.Unix(), got.Unix())
	assert.False(t, token.IsExpiredAt("!!!."+payload+".sig", token.DefaultSkew, testNow))
}

func TestMalformedTokensAreExpired(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"one segment", "abc"},
		{"two segments", "abc.def"},
		{"four segments", "a.b.c.d"},
		{"payload not base64", "eyJhbGciOiJIUzI1NiJ9.@@@.sig"},
		{"payload not json", rawToken("not json")},
		{"payload json array", rawToken(`[1,2,3]`)},
		{"missing exp", rawToken(`{"sub":"user-1"}`)},
		{"exp wrong type", rawToken(`{"exp":"tomorrow"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := token.DecodeExpiry(tt.token)
			assert.ErrorIs(t, err, token.ErrMalformed)
			assert.True(t, token.IsExpiredAt(tt.token, token.DefaultSkew, testNow))
			assert.True(t, token.IsExpired(tt.token, 0))
		})
	}
}

func TestIsExpiredAt_SkewBoundary(t *testing.T) {
	justOutside := signedToken(t, jwtlib.MapClaims{"exp": testNow.Add(31 * time.Second).Unix()})
	justInside := signedToken(t, jwtlib.MapClaims{"exp": testNow.Add(29 * time.Second).Unix()})
	past := signedToken(t, jwtlib.MapClaims{"exp": testNow.Add(-time.Minute).Unix()})

	assert.False(t, token.IsExpiredAt(justOutside, 30*time.Second, testNow))
	assert.True(t, token.IsExpiredAt(justInside, 30*time.Second, testNow))
	assert.False(t, token.IsExpiredAt(justInside, 0, testNow))
	assert.True(t, token.IsExpiredAt(past, 0, testNow))
}

func TestIsExpired_UsesNowTimeFunc(t *testing.T) {
	orig := token.NowTimeFunc
	token.NowTimeFunc = func() time.Time { return testNow }
	t.Cleanup(func() { token.NowTimeFunc = orig })

	tok := signedToken(t, jwtlib.MapClaims{"exp": testNow.Add(time.Minute).Unix()})

	assert.False(t, token.IsExpired(tok, token.DefaultSkew))
	assert.True(t, token.IsExpired(tok, 2*time.Minute))
}
