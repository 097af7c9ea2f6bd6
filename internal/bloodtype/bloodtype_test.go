package bloodtype

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"O-", ONeg, false},
		{" ab+ ", ABPos, false},
		{"C+", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestUniversalDonorAndRecipient(t *testing.T) {
	for _, recipient := range All() {
		if !CanDonateTo(ONeg, recipient) {
			t.Errorf("Expected O- to donate to %s", recipient)
		}
		if !CanDonateTo(recipient, ABPos) {
			t.Errorf("Expected %s to donate to AB+", recipient)
		}
	}
	if len(CompatibleRecipients(ABPos)) != 1 {
		t.Errorf("Expected AB+ to donate only to AB+, got %v", CompatibleRecipients(ABPos))
	}
}

func TestCompatibility(t *testing.T) {
	tests := []struct {
		donor, recipient Type
		want             bool
	}{
		{OPos, ONeg, false},
		{ANeg, APos, true},
		{APos, ANeg, false},
		{BNeg, ABNeg, true},
		{APos, BPos, false},
	}

	for _, tt := range tests {
		if got := CanDonateTo(tt.donor, tt.recipient); got != tt.want {
			t.Errorf("CanDonateTo(%s, %s) = %v, want %v", tt.donor, tt.recipient, got, tt.want)
		}
	}
}

func TestAllReturnsCopy(t *testing.T) {
	a := All()
	a[0] = "X"
	if All()[0] != APos {
		t.Error("Expected All to return a defensive copy")
	}
	if len(a) != 8 {
		t.Errorf("Expected 8 types, got %d", len(a))
	}
}
