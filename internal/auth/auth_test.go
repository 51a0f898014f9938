package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/jdwpd/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			log.Debug().Str("stored", tc.stored).Str("input", tc.input).AnErr("result", err).Msg("auth/static-token")
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer  abc ", want: "abc"},
		{header: "Basic abc", wantErr: ErrMissingBearer},
		{header: "Bearer ", wantErr: ErrMissingBearer},
		{header: "", wantErr: ErrMissingBearer},
	}
	for _, tc := range tests {
		got, err := BearerToken(tc.header)
		if !errors.Is(err, tc.wantErr) || got != tc.want {
			t.Fatalf("header %q: got=%q err=%v", tc.header, got, err)
		}
	}
}
