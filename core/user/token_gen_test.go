package user

import (
	"testing"
	"time"
)

func TestMakeVerifyToken(t *testing.T) {
	tokens := passwordResetTokens{secretKey: "secret", timeout: 3 * 24 * time.Hour}

	now := time.Now()
	usr := User{
		ID:         "2b4f5c1e-4a57-4b1e-a1b8-1b7c0a6d9f10",
		Name:       "T",
		NationalID: "0499370899",
		Phone:      "09121234567",
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastLogin:  now,
	}
	_ = usr.SetPassword("pwd")

	validToken := tokens.makeToken(usr)

	// generate an expired token
	dayLate := tokens.timeout + (24 * time.Hour)
	nowFunc = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken := tokens.makeToken(usr)
	nowFunc = time.Now // reset

	// the token dies with the password it was issued for
	changedPwd := usr
	_ = changedPwd.SetPassword("other")

	// and with the last login
	loggedIn := usr
	loggedIn.LastLogin = now.Add(time.Minute)

	tests := []struct {
		name    string
		usr     User
		token   string
		wantErr error
	}{
		{name: "no token", usr: usr, wantErr: errInvalidToken},
		{name: "invalid parts len", usr: usr, token: "lmaooolol", wantErr: errInvalidToken},
		{name: "invalid base32", usr: usr, token: "hahaha-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid timestamp", usr: usr, token: "NRXWY-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid token", usr: usr, token: "HE4TS-sigsig-sig", wantErr: errInvalidToken},
		{name: "expired token", usr: usr, token: expiredToken, wantErr: errTokenExpired},
		{name: "password changed", usr: changedPwd, token: validToken, wantErr: errInvalidToken},
		{name: "logged in since", usr: loggedIn, token: validToken, wantErr: errInvalidToken},
		{name: "valid token", usr: usr, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tokens.verifyToken(tt.usr, tt.token); err != tt.wantErr {
				t.Errorf("verifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeDecodeUID(t *testing.T) {
	usr := User{ID: "2b4f5c1e-4a57-4b1e-a1b8-1b7c0a6d9f10"}
	id, err := decodeUID(EncodeUID(usr))
	if err != nil {
		t.Fatalf("decodeUID() error = %v", err)
	}
	if id != usr.ID {
		t.Errorf("decodeUID() = %v, want %v", id, usr.ID)
	}
	if _, err = decodeUID("%%%"); err == nil {
		t.Error("decodeUID() expected an error")
	}
}
