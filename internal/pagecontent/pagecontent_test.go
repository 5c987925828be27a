package pagecontent

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty allowed", "", nil},
		{"within limit", "hello world", nil},
		{"exact max length", strings.Repeat("a", MaxContentLength), nil},
		{"exceeds max length", strings.Repeat("a", MaxContentLength+1), ErrContentTooLong},
		{"multibyte exceeds max", strings.Repeat("日", MaxContentLength+1), ErrContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ValidateContent(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateContent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.input {
				t.Errorf("ValidateContent() = %q, want %q", got, tt.input)
			}
		})
	}
}

func TestValidateBannerURL(t *testing.T) {
	t.Parallel()

	longURL := "https://example.com/" + strings.Repeat("a", 2048)
	shortURL := "https://example.com/banner.png"

	tests := []struct {
		name    string
		input   *string
		wantErr error
	}{
		{"nil allowed", nil, nil},
		{"within limit", &shortURL, nil},
		{"exceeds limit", &longURL, ErrBannerURLLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := ValidateBannerURL(tt.input); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateBannerURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
