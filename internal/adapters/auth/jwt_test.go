package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret")
	tok, err := v.Issue(domain.User{ID: 5, Name: "eve", AvatarURL: "http://x/a.png"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	u, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != 5 || u.Name != "eve" || u.AvatarURL != "http://x/a.png" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewJWTVerifier("secret")
	other := NewJWTVerifier("other")
	forged, _ := other.Issue(domain.User{ID: 1, Name: "x"}, time.Minute)
	expired, _ := v.Issue(domain.User{ID: 1, Name: "x"}, -time.Minute)
	noName, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: 1}).SignedString([]byte("secret"))
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1, Name: "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"forged":  forged,
		"expired": expired,
		"no name": noName,
		"none":    none,
		"garbage": "abc.def.ghi",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]bool{
		"Bearer abc": true,
		"bearer abc": false,
		"Bearer":     false,
		"Bearer ":    false,
		"":           false,
	} {
		if _, ok := BearerToken(header); ok != want {
			t.Fatalf("%q: got %v", header, ok)
		}
	}
}

func TestJWTAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewJWTVerifier("secret")
	r := gin.New()
	r.GET("/me", v.JWTAuth(), func(c *gin.Context) {
		u, _ := UserFrom(c)
		c.JSON(http.StatusOK, u)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	tok, _ := v.Issue(domain.User{ID: 9, Name: "nine"}, time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
}
