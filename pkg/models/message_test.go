package models

import "testing"

func TestDirection_Valid(t *testing.T) {
	tests := []struct {
		direction Direction
		want      bool
	}{
		{DirectionInbound, true},
		{DirectionOutbound, true},
		{Direction("sideways"), false},
		{Direction(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.direction), func(t *testing.T) {
			if got := tt.direction.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConversationThread_IsNew(t *testing.T) {
	var nilThread *ConversationThread
	if nilThread.IsNew() {
		t.Error("nil thread should not report new")
	}
	if !(&ConversationThread{}).IsNew() {
		t.Error("zero-version thread should report new")
	}
	if (&ConversationThread{Version: 3}).IsNew() {
		t.Error("committed thread should not report new")
	}
}

func TestNormalizeAddress(t *testing.T) {
	if got := NormalizeAddress("  Ops@Example.COM "); got != "ops@example.com" {
		t.Errorf("NormalizeAddress() = %q", got)
	}
}
