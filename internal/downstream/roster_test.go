package downstream

import (
	"testing"

	"github.com/ernie/renx-relay/internal/domain"
)

func TestRosterEnterExit(t *testing.T) {
	r := NewRoster()
	r.Observe("lPLAYER\x02Enter;\x02GDI,256,Havoc\x02from\x0210.0.0.5\x02hwid\x02m0a1b2c3d4e5\x02steamid\x020x0110000104AE0666\x02success")
	r.Observe("lPLAYER\x02Enter;\x02Nod,b3,Bot Sakura\x02from\x02\x02hwid\x02\x02steamid\x02")

	got := r.Players()
	want := []domain.Player{
		{ID: 3, IsBot: true, Team: "Nod", Name: "Bot Sakura"},
		{ID: 256, Team: "GDI", Name: "Havoc", IP: "10.0.0.5", HWID: "m0a1b2c3d4e5", SteamID: "0x0110000104AE0666"},
	}
	if len(got) != len(want) {
		t.Fatalf("Players() = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("player %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	r.Observe("lPLAYER\x02Exit;\x02GDI,256,Havoc")
	if r.Len() != 1 {
		t.Errorf("Len after exit = %d, want 1", r.Len())
	}
}

func TestRosterNameChangeAndTeamJoin(t *testing.T) {
	r := NewRoster()
	r.Observe("lPLAYER\x02Enter;\x02GDI,7,Sydney\x02from\x0210.0.0.7")
	r.Observe("lPLAYER\x02NameChange;\x02GDI,7,Sydney\x02to:\x02Mobius")
	r.Observe("lPLAYER\x02TeamJoin;\x02GDI,7,Mobius\x02joined\x02Nod\x02score\x020\x02last\x02GDI")

	got := r.Players()
	if len(got) != 1 || got[0].Name != "Mobius" || got[0].Team != "Nod" || got[0].IP != "10.0.0.7" {
		t.Errorf("Players() = %+v", got)
	}
}

func TestRosterIgnoresOtherLines(t *testing.T) {
	r := NewRoster()
	for _, line := range []string{
		"lCHAT\x02Say;\x02GDI,1,Havoc\x02hi",
		"lPLAYER\x02Enter;",
		"lPLAYER\x02Enter;\x02not a player",
		"rPONG",
		"",
	} {
		r.Observe(line)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRosterBotAndHumanShareID(t *testing.T) {
	r := NewRoster()
	r.Observe("lPLAYER\x02Enter;\x02Nod,b1,Bot")
	r.Observe("lPLAYER\x02Enter;\x02GDI,1,Human")
	r.Observe("lPLAYER\x02Exit;\x02Nod,b1,Bot")

	got := r.Players()
	if len(got) != 1 || got[0].Name != "Human" {
		t.Errorf("Players() = %+v", got)
	}
}
