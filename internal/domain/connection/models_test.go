package connection

import (
	"errors"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    Status
		wantErr bool
	}{
		{"UPDATED", StatusUpdated, false},
		{"updating", StatusUpdating, false},
		{"LOGIN_ERROR", StatusLoginError, false},
		{" OUTDATED ", StatusOutdated, false},
		{"WAITING_USER_INPUT", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseStatus(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidStatus) {
					t.Errorf("ParseStatus(%q) error = %v, want ErrInvalidStatus", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatus(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestUpsertParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  UpsertParams
		wantErr bool
	}{
		{"valid", UpsertParams{UserID: "u1", ItemID: "item-1", Status: StatusUpdating}, false},
		{"missing user", UpsertParams{ItemID: "item-1", Status: StatusUpdated}, true},
		{"blank item", UpsertParams{UserID: "u1", ItemID: "  ", Status: StatusUpdated}, true},
		{"unknown status", UpsertParams{UserID: "u1", ItemID: "item-1", Status: "gone"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusUpdates(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	ok := Succeeded(at)
	if ok.Status != StatusUpdated || ok.LastSyncAt == nil || !ok.LastSyncAt.Equal(at) || ok.ErrorMessage != nil {
		t.Errorf("Succeeded() = %+v", ok)
	}

	failed := Failed("invalid credentials")
	if failed.Status != StatusLoginError || failed.LastSyncAt != nil {
		t.Errorf("Failed() = %+v", failed)
	}
	if failed.ErrorMessage == nil || *failed.ErrorMessage != "invalid credentials" {
		t.Errorf("Failed() error message = %v", failed.ErrorMessage)
	}
}
