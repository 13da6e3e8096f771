package staging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trends-importer/internal/demostf"
	"trends-importer/internal/fault"
	"trends-importer/internal/logstf"
	"trends-importer/internal/steamid"
)

var (
	alice = steamid.FromAccount(10)
	bob   = steamid.FromAccount(30)
	carol = steamid.FromAccount(50)
)

func loadFixture(t *testing.T) *logstf.Log {
	t.Helper()
	raw, err := os.ReadFile("testdata/log.json")
	require.NoError(t, err)
	l, err := logstf.Decode(raw)
	require.NoError(t, err)
	return l
}

func ptr[T any](v T) *T {
	return &v
}

func TestNormalize_Header(t *testing.T) {
	rec, err := Normalize(42, loadFixture(t))
	require.NoError(t, err)

	assert.Equal(t, int64(42), rec.Log.LogID)
	assert.Equal(t, int64(1600000000), rec.Log.Time)
	assert.Equal(t, "cp_process_final", rec.Log.Map)
	assert.Equal(t, int64(2), rec.Log.RedScore)
	assert.Equal(t, int64(1), rec.Log.BlueScore)
	assert.Equal(t, steamid.ID(76561197960265729), rec.Log.Uploader)
	assert.NotNil(t, rec.Log.RoundHash)
	require.NotEmpty(t, rec.People)
	assert.Equal(t, Person{SteamID: rec.Log.Uploader, Name: "uploader"}, rec.People[0])
}

func TestNormalize_Players(t *testing.T) {
	rec, err := Normalize(42, loadFixture(t))
	require.NoError(t, err)

	// BOT has no usable id and [U:1:20] has no team
	require.Len(t, rec.Players, 2)
	assert.Equal(t, PlayerRow{
		SteamID: alice, Team: ptr("Red"), Name: "alice",
		Kills: 12, Assists: 3, Deaths: 4, Dmg: 4000, Dt: ptr(int64(3000)),
	}, rec.Players[0])
	assert.Equal(t, bob, rec.Players[1].SteamID)

	require.Len(t, rec.Extras, 2)
	assert.Equal(t, int64(1), *rec.Extras[0].Suicides)
	assert.Nil(t, rec.Extras[0].Airshots, "airshots are not tracked")
	assert.Nil(t, rec.Extras[0].DmgReal, "real damage is not tracked")
	assert.Nil(t, rec.Extras[0].Headshots)
	assert.Equal(t, int64(3), *rec.Extras[1].Medkits)
	assert.Equal(t, int64(12000), *rec.Extras[1].Healing)

	require.Len(t, rec.Events, 2)
	assert.Equal(t, EventRow{SteamID: alice, Event: "kill", Counts: [9]int64{3: 2, 5: 5}}, rec.Events[0])
	assert.Equal(t, EventRow{SteamID: bob, Event: "death", Counts: [9]int64{7: 4}}, rec.Events[1])
}

func TestNormalize_Classes(t *testing.T) {
	rec, err := Normalize(42, loadFixture(t))
	require.NoError(t, err)

	require.Len(t, rec.Classes, 2)
	assert.Equal(t, "soldier", rec.Classes[0].Class)
	assert.Equal(t, int64(1200), rec.Classes[0].Duration, "clamped to the log duration")
	assert.Equal(t, "medic", rec.Classes[1].Class)
	assert.Equal(t, int64(1000), rec.Classes[1].Duration)

	require.Len(t, rec.Weapons, 3)
	assert.Equal(t, WeaponRow{SteamID: alice, Class: "soldier", Weapon: "shovel", Kills: 1}, rec.Weapons[0])
	rocket := rec.Weapons[1]
	assert.Equal(t, "tf_projectile_rocket", rocket.Weapon)
	assert.Equal(t, int64(3900), *rocket.Dmg)
	assert.Nil(t, rocket.Shots, "shots without hits are dropped")
	assert.Nil(t, rocket.Hits)
	crossbow := rec.Weapons[2]
	assert.Equal(t, int64(10), *crossbow.Shots)
	assert.Equal(t, int64(4), *crossbow.Hits)
}

func TestNormalize_DoubledUbers(t *testing.T) {
	rec, err := Normalize(42, loadFixture(t))
	require.NoError(t, err)

	require.Len(t, rec.Medics, 1)
	m := rec.Medics[0]
	assert.Equal(t, int64(3), m.Ubers)
	assert.Equal(t, int64(2), *m.MedigunUbers)
	assert.Equal(t, int64(1), *m.KritzUbers)
	assert.Equal(t, int64(0), *m.OtherUbers)
	assert.Equal(t, int64(2), *m.AdvantagesLost)
	assert.Equal(t, 7.5, *m.AvgUberDuration)

	require.Len(t, rec.Rounds, 2)
	assert.Equal(t, int64(2), rec.Rounds[0].RedUbers)
	assert.Equal(t, int64(1), rec.Rounds[0].BlueUbers)
	assert.Equal(t, int64(1), rec.Rounds[1].RedUbers)
	assert.Equal(t, int64(-1), rec.Rounds[1].BlueUbers)
}

func TestNormalize_UberTypesAbsent(t *testing.T) {
	l := loadFixture(t)
	l.Players["[U:1:30]"].UberTypes = nil
	rec, err := Normalize(42, l)
	require.NoError(t, err)

	m := rec.Medics[0]
	assert.Equal(t, int64(6), m.Ubers)
	assert.Nil(t, m.MedigunUbers)
	assert.Nil(t, m.KritzUbers)
	assert.Nil(t, m.OtherUbers)
	assert.Equal(t, int64(3), rec.Rounds[0].RedUbers, "rounds are left alone")
}

func TestNormalize_NoUbersIsNotDoubled(t *testing.T) {
	l := loadFixture(t)
	l.Players["[U:1:30]"].UberTypes = map[string]int64{}
	rec, err := Normalize(42, l)
	require.NoError(t, err)

	m := rec.Medics[0]
	assert.Equal(t, int64(6), m.Ubers)
	assert.Equal(t, int64(0), *m.MedigunUbers)
	assert.Equal(t, int64(6), *m.OtherUbers)
	assert.Equal(t, int64(3), rec.Rounds[0].RedUbers, "rounds are left alone")
}

func TestNormalize_Rounds(t *testing.T) {
	rec, err := Normalize(42, loadFixture(t))
	require.NoError(t, err)

	first, second := rec.Rounds[0], rec.Rounds[1]
	assert.Equal(t, "Red", *first.Winner)
	assert.Equal(t, "Blue", *first.FirstCap)
	assert.Equal(t, int64(4000), first.BlueDmg, "damage falls back to the old field name")
	assert.Equal(t, int64(0), first.BlueScore)

	assert.Equal(t, int64(1600000000), second.Time, "bogus start times use the log date")
	assert.Nil(t, second.Winner)
	assert.Nil(t, second.FirstCap)
	assert.Equal(t, int64(2), second.RedScore, "missing round score falls back to the log")
}

func TestNormalize_ChatAndHeals(t *testing.T) {
	rec, err := Normalize(42, loadFixture(t))
	require.NoError(t, err)

	require.Len(t, rec.Chat, 3)
	assert.Equal(t, ChatRow{Seq: 0, Name: "Console", Msg: "match begins"}, rec.Chat[0])
	assert.Equal(t, alice, *rec.Chat[1].SteamID)
	assert.Equal(t, 3, rec.Chat[2].Seq)
	assert.Contains(t, rec.People, Person{SteamID: carol, Name: "carol"})

	assert.Equal(t, []HealRow{
		{Healer: bob, Healee: alice, Healing: 8000},
		{Healer: bob, Healee: steamid.FromAccount(40), Healing: 4000},
	}, rec.Heals)
}

func TestNormalize_OldStyle(t *testing.T) {
	l := loadFixture(t)
	l.Teams = nil
	l.Info.Red = &logstf.TeamSummary{Score: ptr(int64(4))}
	l.Info.Blue = &logstf.TeamSummary{Score: ptr(int64(0))}
	l.Info.Rounds, l.Rounds = l.Rounds, nil
	for i := range l.Info.Rounds {
		r := &l.Info.Rounds[i]
		r.Red, r.Blue, r.Team = r.Team.Red, r.Team.Blue, nil
	}

	rec, err := Normalize(42, l)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.Log.RedScore)
	assert.Len(t, rec.Rounds, 2)
	assert.Equal(t, int64(20), rec.Rounds[0].RedKills)
}

func TestNormalize_ParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*logstf.Log)
	}{
		{"no date", func(l *logstf.Log) { l.Info.Date = nil }},
		{"no map", func(l *logstf.Log) { l.Info.Map = nil }},
		{"bad uploader", func(l *logstf.Log) { l.Info.Uploader.ID = "nobody" }},
		{"no scores", func(l *logstf.Log) { l.Teams = nil }},
		{"no rounds", func(l *logstf.Log) { l.Rounds = nil }},
		{"round without kills", func(l *logstf.Log) { l.Rounds[0].Team.Red.Kills = nil }},
		{"round without length", func(l *logstf.Log) { l.Rounds[1].Length = nil }},
		{"missing name", func(l *logstf.Log) { delete(l.Names, "[U:1:10]") }},
		{"unknown class", func(l *logstf.Log) {
			l.Players["[U:1:10]"].ClassStats[0].Type = "civilian"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := loadFixture(t)
			tt.mutate(l)
			_, err := Normalize(42, l)
			require.Error(t, err)
			assert.Equal(t, fault.KindParse, fault.Classify(err))
		})
	}
}

func TestNormalize_NoFingerprintWithoutRounds(t *testing.T) {
	l := loadFixture(t)
	l.Rounds = []logstf.Round{}
	rec, err := Normalize(42, l)
	require.NoError(t, err)
	assert.Empty(t, rec.Rounds)
	assert.Nil(t, rec.Log.RoundHash)
}

func TestHalve(t *testing.T) {
	for n, want := range map[int64]int64{0: 0, 1: 1, 2: 1, 3: 2, -1: -1, -3: -2} {
		assert.Equal(t, want, halve(n), "halve(%d)", n)
	}
}

func TestNormalizeDemo(t *testing.T) {
	d := &demostf.Demo{
		ID: ptr(int64(7)), URL: "https://example.com/7.dem", Server: "srv", Duration: ptr(int64(1800)),
		Map: ptr("cp_process_final"), Time: ptr(int64(1600000100)), Red: "RED", Blue: "BLU",
		RedScore: ptr(int64(5)), BlueScore: ptr(int64(3)),
		Players: []demostf.Player{
			{Name: "bob", Team: "blue", Class: "medic", SteamID: "[U:1:30]", Kills: 1},
			{Name: "alice", Team: "red", Class: "soldier", SteamID: "[U:1:10]", Kills: 20},
			{Name: "watcher", Team: "spectator", SteamID: "[U:1:20]"},
			{Name: "bot", Team: "red", SteamID: "BOT"},
			{Name: "alice again", Team: "red", SteamID: "[U:1:10]"},
		},
	}

	rec, err := NormalizeDemo(d)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Demo.DemoID)
	assert.Equal(t, []int64{int64(alice), int64(bob)}, rec.Demo.Players)
	require.Len(t, rec.Players, 2)
	assert.Equal(t, "red", rec.Players[0].Team)
	assert.Equal(t, "soldier", *rec.Players[0].Class)
	assert.Len(t, rec.People, 2)

	d.Map = nil
	_, err = NormalizeDemo(d)
	assert.Equal(t, fault.KindParse, fault.Classify(err))
}
