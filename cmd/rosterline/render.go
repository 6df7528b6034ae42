package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"rosterline/internal/config"
	"rosterline/internal/domain"
	"rosterline/internal/progress"
	rosterlinesdk "rosterline/sdk/go"
)

var stateMarks = map[progress.StepState]string{
	progress.StateCompleted: "[x]",
	progress.StateCurrent:   "[>]",
	progress.StateUpcoming:  "[ ]",
}

func renderSession(w io.Writer, s domain.OnboardingSession) {
	v := progress.Calculate(s)
	fmt.Fprintf(w, "%s  %s  (%s)\n", v.Type, v.SessionID, v.Status)
	if s.Status == domain.StatusInProgress {
		fmt.Fprintf(w, "Step %d of %d · %d%% · about %d min left\n",
			v.CurrentStepNumber, v.TotalSteps, v.ProgressPercentage, v.EstimatedMinutesRemaining)
	} else {
		fmt.Fprintf(w, "%d of %d steps · %d%%\n", v.CompletedSteps, v.TotalSteps, v.ProgressPercentage)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"", "#", "Step", "ID", "Est. min"})
	for _, st := range v.Steps {
		est := ""
		if st.EstimatedMinutes != nil {
			est = fmt.Sprint(*st.EstimatedMinutes)
		}
		tw.AppendRow(table.Row{stateMarks[st.State], st.Number, st.Title, st.ID, est})
	}
	tw.Render()
}

func renderFlows(w io.Writer, flows []rosterlinesdk.Flow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Type", "Title", "Steps", "Est. min"})
	for _, f := range flows {
		tw.AppendRow(table.Row{f.Type, f.Title, len(f.Steps), f.EstimatedMinutes})
	}
	tw.Render()
}

func renderCatalog(w io.Writer, cfg *config.Config) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Flow", "Step", "Title", "Est. min"})
	for _, f := range cfg.Flows {
		for _, st := range f.Steps {
			tw.AppendRow(table.Row{f.Type, st.ID, st.Title, st.EstimatedMinutes})
		}
		tw.AppendSeparator()
	}
	tw.Render()
}

func renderHistory(w io.Writer, items []domain.OnboardingSession, completed []domain.FlowType) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Type", "Status", "Progress", "Created"})
	for _, s := range items {
		v := progress.Calculate(s)
		tw.AppendRow(table.Row{s.ID, s.Type, s.Status, fmt.Sprintf("%d/%d (%d%%)", v.CompletedSteps, v.TotalSteps, v.ProgressPercentage), s.CreatedAt})
	}
	tw.Render()
	names := make([]string, 0, len(completed))
	for _, t := range completed {
		names = append(names, string(t))
	}
	if len(names) == 0 {
		names = append(names, "none yet")
	}
	fmt.Fprintf(w, "Completed flows: %s\n", strings.Join(names, ", "))
}

func renderEvents(w io.Writer, events []rosterlinesdk.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Actor", "Payload"})
	for _, e := range events {
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ActorID, formatPayload(e.Payload)})
	}
	tw.Render()
}

func formatPayload(p map[string]any) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, " ")
}
