package formatter

import (
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/cuedeck/internal/models"
	tu "github.com/desertthunder/cuedeck/internal/testing"
)

func TestState(t *testing.T) {
	f := New(nil)

	t.Run("Full state", func(t *testing.T) {
		state := models.ProductionState{
			ProductionID: "p1",
			IsConnected:  true,
			OBS: models.EngineTelemetry{
				Connected:      models.Ptr(true),
				CurrentScene:   models.Ptr("Main"),
				PreviewScene:   models.Ptr("Intro"),
				IsStreaming:    models.Ptr(true),
				StreamTimecode: models.Ptr("00:12:03"),
				IsRecording:    models.Ptr(false),
			},
			Tally: &models.TallyState{Program: []string{"cam1"}, Preview: []string{"cam2", "cam3"}},
		}

		out := f.State(state)
		for _, want := range []string{
			"Production p1",
			"connected",
			"OBS",
			"Main",
			"Intro",
			"live 00:12:03",
			"Program    cam1",
			"Preview    cam2 cam3",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, out)
			}
		}
		if strings.Contains(out, "vMix") {
			t.Errorf("expected empty vMix telemetry to be omitted, got:\n%s", out)
		}
	})

	t.Run("Disconnected without tally", func(t *testing.T) {
		out := f.State(models.ProductionState{ProductionID: "p2"})
		if !strings.Contains(out, "disconnected") {
			t.Errorf("expected disconnected, got:\n%s", out)
		}
		if strings.Contains(out, "Tally") {
			t.Errorf("expected no tally section, got:\n%s", out)
		}
	})

	t.Run("Empty tally lists", func(t *testing.T) {
		out := f.State(models.ProductionState{ProductionID: "p3", Tally: &models.TallyState{}})
		if !strings.Contains(out, "Program    -") {
			t.Errorf("expected placeholder for empty program, got:\n%s", out)
		}
	})
}

func TestRoster(t *testing.T) {
	members := []models.PresenceMember{
		{UserID: "u1", UserName: "Director", RoleName: "Director"},
		{UserID: "u2", UserName: "Camera 1"},
	}

	out := New(nil).Roster(members, false)
	if !strings.Contains(out, "Online (2)") || !strings.Contains(out, "[not synced]") {
		t.Errorf("unexpected header:\n%s", out)
	}
	if !strings.Contains(out, "Camera 1") || !strings.Contains(out, "u2") {
		t.Errorf("missing member line:\n%s", out)
	}
}

func TestAlert(t *testing.T) {
	alert := models.Alert{ID: "a1", SenderName: "Director", Message: "Stand by"}
	ack := &models.AckRecord{AlertID: "a1", UserName: "Cam 2", Type: models.AckKind("reply"), Message: "ready in 10"}

	out := New(nil).Alert(alert, ack)
	if !strings.Contains(out, "ALERT from Director: Stand by") {
		t.Errorf("unexpected alert line:\n%s", out)
	}
	if !strings.Contains(out, "reply by Cam 2: ready in 10") {
		t.Errorf("unexpected ack line:\n%s", out)
	}
}

func TestExporters(t *testing.T) {
	started := time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)

	t.Run("RosterToCSV", func(t *testing.T) {
		data, err := RosterToCSV([]models.PresenceMember{{UserID: "u1", UserName: "Smith, J", RoleName: "TD", LastSeen: started}})
		if err != nil {
			t.Fatalf("RosterToCSV failed: %v", err)
		}

		records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		if err != nil {
			t.Fatalf("invalid CSV: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected header and one row, got %d", len(records))
		}
		if records[1][1] != "Smith, J" || records[1][4] != "2026-02-01T20:00:00Z" {
			t.Errorf("unexpected row %v", records[1])
		}
	})

	t.Run("LogsToCSV", func(t *testing.T) {
		logs := []models.ExecutionLog{
			{ID: "l1", RuleID: "r1", ExecutionID: "e1", Status: models.ExecutionSuccess, StartedAt: started, FinishedAt: &finished},
			{ID: "l2", RuleID: "r1", ExecutionID: "e2", Status: models.ExecutionRunning, StartedAt: started},
		}
		data, err := LogsToCSV(logs)
		if err != nil {
			t.Fatalf("LogsToCSV failed: %v", err)
		}

		output := string(data)
		if !strings.HasPrefix(output, "ID,RuleID,ExecutionID,Status,Message,StartedAt,FinishedAt\n") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "l1,r1,e1,success,,2026-02-01T20:00:00Z,2026-02-01T20:00:03Z") {
			t.Errorf("CSV missing finished row, got: %s", output)
		}
		if !strings.Contains(output, "l2,r1,e2,running,,2026-02-01T20:00:00Z,\n") {
			t.Errorf("CSV missing running row, got: %s", output)
		}
	})

	t.Run("Logs", func(t *testing.T) {
		out := New(nil).Logs([]models.ExecutionLog{{RuleID: "r1", ExecutionID: "e1", Status: models.ExecutionFailed, Message: "obs offline", StartedAt: started}})
		if !strings.Contains(out, "failed") || !strings.Contains(out, "obs offline") {
			t.Errorf("unexpected log line: %s", out)
		}
	})

	t.Run("ToJSON", func(t *testing.T) {
		data, err := ToJSON(map[string]int{"a": 1}, true)
		if err != nil {
			t.Fatalf("ToJSON failed: %v", err)
		}
		if string(data) != "{\n  \"a\": 1\n}" {
			t.Errorf("unexpected JSON %q", data)
		}
	})

	t.Run("WriteFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "roster.csv")
		if err := WriteFile(path, []byte("UserID\n")); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		tu.AssertFileExists(t, path)
		if got := tu.MustReadFile(t, path); got != "UserID\n" {
			t.Errorf("unexpected contents %q", got)
		}
	})
}
