package user

import (
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("Sup3r$ecret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	parts := strings.Split(hash, ".")
	if len(parts) != 2 || len(parts[0]) != 2*scryptKeyLen || len(parts[1]) != 2*saltLen {
		t.Fatalf("HashPassword() = %q; want hex(key).hex(salt)", hash)
	}

	other, _ := HashPassword("Sup3r$ecret")
	if other == hash {
		t.Error("HashPassword() must salt every hash")
	}
}

func TestComparePassword(t *testing.T) {
	hash, err := HashPassword("Sup3r$ecret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name    string
		hash    string
		pwd     string
		wantErr error
	}{
		{name: "match", hash: hash, pwd: "Sup3r$ecret"},
		{name: "mismatch", hash: hash, pwd: "sup3r$ecret", wantErr: ErrPasswordMismatch},
		{name: "empty hash", hash: "", pwd: "Sup3r$ecret", wantErr: ErrPasswordMismatch},
		{name: "no salt", hash: strings.Split(hash, ".")[0], pwd: "Sup3r$ecret", wantErr: ErrPasswordMismatch},
		{name: "not hex", hash: "zz.zz", pwd: "Sup3r$ecret", wantErr: ErrPasswordMismatch},
		{name: "empty key", hash: "." + strings.Split(hash, ".")[1], pwd: "Sup3r$ecret", wantErr: ErrPasswordMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ComparePassword(tt.hash, tt.pwd); err != tt.wantErr {
				t.Errorf("ComparePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUser_SetPassword(t *testing.T) {
	var usr User
	if err := usr.SetPassword("Sup3r$ecret"); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}
	if err := usr.CheckPassword("Sup3r$ecret"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}
	if err := usr.CheckPassword("wrong"); err != ErrPasswordMismatch {
		t.Errorf("CheckPassword() error = %v, want %v", err, ErrPasswordMismatch)
	}
}
