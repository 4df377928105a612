package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticKey(t *testing.T) {
	if _, err := StaticKey("  ").APIKey(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("APIKey() error = %v, want %v", err, ErrNotConfigured)
	}
	got, err := StaticKey("k1").APIKey(context.Background())
	if err != nil || got != "k1" {
		t.Fatalf("APIKey() = %q, %v, want k1", got, err)
	}
}

func TestRemote(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"apiKey":"abc","expiresAt":1}`, want: "abc"},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"API key not configured"}`, wantErr: true},
		{name: "empty key", status: http.StatusOK, body: `{}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %s, want POST", r.Method)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewRemote(srv.URL).APIKey(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("APIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("APIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	if _, ok := Select("", "k").(StaticKey); !ok {
		t.Fatalf("Select() without url should return StaticKey")
	}
	if _, ok := Select("http://auth", "").(*Remote); !ok {
		t.Fatalf("Select() with url should return *Remote")
	}
}
