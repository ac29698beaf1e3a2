package domain

import (
	"strconv"
	"testing"
)

func TestParsePlayerToken(t *testing.T) {
	tests := []struct {
		in    string
		ok    bool
		id    int
		isBot bool
		name  string
	}{
		{"GDI,5,Havoc", true, 5, false, "Havoc"},
		{"Nod,b12,Bot,With,Commas", true, 12, true, "Bot,With,Commas"},
		{"GDI,007,Havoc", true, 7, false, "Havoc"},
		{"GDI,,Havoc", false, 0, false, ""},
		{"GDI,b,Havoc", false, 0, false, ""},
		{"GDI,x1,Havoc", false, 0, false, ""},
		{"GDI,5", false, 0, false, ""},
	}
	for _, tt := range tests {
		pt, ok := ParsePlayerToken(tt.in)
		if ok != tt.ok {
			t.Errorf("ParsePlayerToken(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && (pt.ID != tt.id || pt.IsBot != tt.isBot || pt.Name != tt.name) {
			t.Errorf("ParsePlayerToken(%q) = %+v", tt.in, pt)
		}
	}
}

func TestPlayerTokenRenameKeepsIDText(t *testing.T) {
	tests := map[string]string{
		"GDI,5,Havoc":   "GDI,5,Player5",
		"GDI,007,Havoc": "GDI,007,Player7",
		"GDI,+5,x":      "GDI,+5,Player5",
		"Nod,b3,Bot":    "Nod,b3,Player3",
	}
	for in, want := range tests {
		pt, ok := ParsePlayerToken(in)
		if !ok {
			t.Fatalf("ParsePlayerToken(%q) failed", in)
		}
		pt.Name = "Player" + strconv.Itoa(pt.ID)
		if got := pt.String(); got != want {
			t.Errorf("rename of %q = %q, want %q", in, got, want)
		}
	}
}

func TestPlayerTokenStringBuilt(t *testing.T) {
	pt := PlayerToken{Team: "GDI", ID: 4, IsBot: true, Name: "x"}
	if got := pt.String(); got != "GDI,b4,x" {
		t.Errorf("String() = %q", got)
	}
}
