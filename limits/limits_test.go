package limits

import (
	"errors"
	"testing"
)

func TestValidateMessageSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		max     int
		wantErr error
	}{
		{"empty", 0, 10, ErrMessageEmpty},
		{"within limit", 5, 10, nil},
		{"at limit", 10, 10, nil},
		{"over limit", 11, 10, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageSize(make([]byte, tt.size), tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessageSize(%d, %d) = %v, want %v", tt.size, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRecvSize(t *testing.T) {
	tests := []struct {
		size  int
		valid bool
	}{
		{0, false},
		{-1, false},
		{MinRecvSize, true},
		{DefaultRecvSize, true},
		{MaxRecvSize, true},
		{MaxRecvSize + 1, false},
	}

	for _, tt := range tests {
		err := ValidateRecvSize(tt.size)
		if tt.valid && err != nil {
			t.Errorf("ValidateRecvSize(%d) unexpected error: %v", tt.size, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidRecvSize) {
			t.Errorf("ValidateRecvSize(%d) = %v, want ErrInvalidRecvSize", tt.size, err)
		}
	}
}

func TestValidateSendSize(t *testing.T) {
	if err := ValidateSendSize(nil); err != nil {
		t.Errorf("empty send should be allowed, got %v", err)
	}
	if err := ValidateSendSize(make([]byte, MaxSendSize)); err != nil {
		t.Errorf("send at limit should be allowed, got %v", err)
	}
	if err := ValidateSendSize(make([]byte, MaxSendSize+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized send = %v, want ErrMessageTooLarge", err)
	}
}

func TestClampRecvSize(t *testing.T) {
	if got := ClampRecvSize(0); got != MinRecvSize {
		t.Errorf("ClampRecvSize(0) = %d, want %d", got, MinRecvSize)
	}
	if got := ClampRecvSize(MaxRecvSize * 2); got != MaxRecvSize {
		t.Errorf("ClampRecvSize(huge) = %d, want %d", got, MaxRecvSize)
	}
	if got := ClampRecvSize(512); got != 512 {
		t.Errorf("ClampRecvSize(512) = %d, want 512", got)
	}
}

func TestTLSRecordFitsProcessingBuffer(t *testing.T) {
	if MaxTLSRecord > MaxProcessingBuffer {
		t.Errorf("MaxTLSRecord %d exceeds MaxProcessingBuffer %d", MaxTLSRecord, MaxProcessingBuffer)
	}
}
