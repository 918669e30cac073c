// package formatter renders production state, rosters, intercom status and automation logs for the
// terminal, and exports them as CSV or JSON.
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/cuedeck/internal/models"
)

// Formatter renders with a [Palette].
type Formatter struct {
	p *Palette
}

// New returns a formatter. A nil palette renders plain text.
func New(p *Palette) *Formatter {
	if p == nil {
		p = PlainPalette()
	}
	return &Formatter{p: p}
}

// State renders the merged state of a production.
func (f *Formatter) State(state models.ProductionState) string {
	var b strings.Builder

	b.WriteString(f.p.title.Render("Production "+state.ProductionID) + "\n")
	if state.IsConnected {
		b.WriteString(fmt.Sprintf("  %-10s %s\n", "Engine", f.p.ok.Render("connected")))
	} else {
		b.WriteString(fmt.Sprintf("  %-10s %s\n", "Engine", f.p.err.Render("disconnected")))
	}
	if !state.LastUpdate.IsZero() {
		b.WriteString(fmt.Sprintf("  %-10s %s\n", "Updated", f.p.muted.Render(state.LastUpdate.Format(time.RFC3339))))
	}

	f.engine(&b, "OBS", state.OBS)
	f.engine(&b, "vMix", state.VMix)

	if state.Tally != nil {
		b.WriteString("Tally\n")
		b.WriteString(fmt.Sprintf("  %-10s %s\n", "Program", f.sources(state.Tally.Program, f.p.program)))
		b.WriteString(fmt.Sprintf("  %-10s %s\n", "Preview", f.sources(state.Tally.Preview, f.p.preview)))
	}

	return b.String()
}

func (f *Formatter) engine(b *strings.Builder, name string, t models.EngineTelemetry) {
	if t.IsEmpty() {
		return
	}

	b.WriteString(name + "\n")
	if t.Connected != nil {
		b.WriteString(fmt.Sprintf("  %-10s %s\n", "Link", f.flag(*t.Connected, "up", "down")))
	}
	field := func(label string, v string) {
		b.WriteString(fmt.Sprintf("  %-10s %s\n", label, v))
	}
	if t.CurrentScene != nil {
		field("Program", *t.CurrentScene)
	}
	if t.PreviewScene != nil {
		field("Preview", *t.PreviewScene)
	}
	if t.ActiveInput != nil {
		field("Active", strconv.Itoa(*t.ActiveInput))
	}
	if t.PreviewInput != nil {
		field("Preview", strconv.Itoa(*t.PreviewInput))
	}
	if t.IsStreaming != nil {
		field("Stream", f.flag(*t.IsStreaming, "live "+deref(t.StreamTimecode), "off"))
	}
	if t.IsRecording != nil {
		field("Record", f.flag(*t.IsRecording, "rec "+deref(t.RecordTimecode), "off"))
	}
	if t.CPUUsage != nil {
		field("CPU", strconv.FormatFloat(*t.CPUUsage, 'f', 1, 64)+"%")
	}
	if t.FPS != nil {
		field("FPS", strconv.FormatFloat(*t.FPS, 'f', 2, 64))
	}
}

func (f *Formatter) flag(on bool, yes, no string) string {
	if on {
		return f.p.ok.Render(strings.TrimSpace(yes))
	}
	return f.p.muted.Render(no)
}

func (f *Formatter) sources(names []string, style lipgloss.Style) string {
	if len(names) == 0 {
		return f.p.muted.Render("-")
	}
	rendered := make([]string, len(names))
	for i, n := range names {
		rendered[i] = style.Render(n)
	}
	return strings.Join(rendered, " ")
}

// Roster renders presence members, one per line.
func (f *Formatter) Roster(members []models.PresenceMember, synced bool) string {
	var b strings.Builder
	header := fmt.Sprintf("Online (%d)", len(members))
	if !synced {
		header += " " + f.p.warn.Render("[not synced]")
	}
	b.WriteString(f.p.title.Render(header) + "\n")

	for _, m := range members {
		role := m.RoleName
		if role == "" {
			role = "-"
		}
		b.WriteString(fmt.Sprintf("  %-24s %-16s %s\n", m.UserName, role, f.p.muted.Render(m.UserID)))
	}
	return b.String()
}

// Alert renders an alert and, when known, its last acknowledgment.
func (f *Formatter) Alert(alert models.Alert, ack *models.AckRecord) string {
	var b strings.Builder
	b.WriteString(f.p.warn.Render(fmt.Sprintf("ALERT from %s: %s", alert.SenderName, alert.Message)) + "\n")
	if ack != nil {
		line := fmt.Sprintf("  %s by %s", ack.Type, ack.UserName)
		if ack.Message != "" {
			line += ": " + ack.Message
		}
		b.WriteString(f.p.ok.Render(line) + "\n")
	}
	return b.String()
}

// Logs renders execution log entries, oldest first as given.
func (f *Formatter) Logs(logs []models.ExecutionLog) string {
	var b strings.Builder
	for _, l := range logs {
		status := string(l.Status)
		switch l.Status {
		case models.ExecutionSuccess:
			status = f.p.ok.Render(status)
		case models.ExecutionFailed:
			status = f.p.err.Render(status)
		default:
			status = f.p.warn.Render(status)
		}
		line := fmt.Sprintf("%s  %-10s %-8s %s", l.StartedAt.Format(time.DateTime), l.RuleID, status, l.ExecutionID)
		if l.Message != "" {
			line += "  " + l.Message
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// RosterToCSV converts presence members to CSV with columns: UserID, Name, Role, Status, LastSeen
func RosterToCSV(members []models.PresenceMember) ([]byte, error) {
	records := make([][]string, 0, len(members))
	for _, m := range members {
		records = append(records, []string{m.UserID, m.UserName, m.RoleName, m.Status, formatTime(m.LastSeen)})
	}
	return writeCSV([]string{"UserID", "Name", "Role", "Status", "LastSeen"}, records)
}

// LogsToCSV converts execution logs to CSV with columns: ID, RuleID, ExecutionID, Status, Message, StartedAt, FinishedAt
func LogsToCSV(logs []models.ExecutionLog) ([]byte, error) {
	records := make([][]string, 0, len(logs))
	for _, l := range logs {
		finished := ""
		if l.FinishedAt != nil {
			finished = formatTime(*l.FinishedAt)
		}
		records = append(records, []string{l.ID, l.RuleID, l.ExecutionID, string(l.Status), l.Message, formatTime(l.StartedAt), finished})
	}
	return writeCSV([]string{"ID", "RuleID", "ExecutionID", "Status", "Message", "StartedAt", "FinishedAt"}, records)
}

// ToJSON encodes v, indented when pretty is set.
func ToJSON(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// WriteFile writes data to path, or to stdout when path is "" or "-".
func WriteFile(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeCSV(headers []string, records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	if err := writer.WriteAll(records); err != nil {
		return nil, fmt.Errorf("failed to write CSV records: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
