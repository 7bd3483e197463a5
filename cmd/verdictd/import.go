package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// maxFixtureBytes caps the size of an import document.
const maxFixtureBytes = 16 << 20

// fixture is an import document. JSON documents parse as YAML.
//
//	responses:
//	  - id: r1
//	    session_id: s1
//	    agent_type: support
//	    reasoning_text: "..."
//	    pairing_key: k1
//	evidence:
//	  s1:
//	    - id: c1
//	      text: "..."
//	      relevance: 0.9
type fixture struct {
	Responses []store.ArgumentResponse         `yaml:"responses"`
	Evidence  map[string][]store.EvidenceChunk `yaml:"evidence"`
}

// ImportReport summarises an import.
type ImportReport struct {
	Responses   int      `json:"responses"`
	Sessions    int      `json:"sessions"`
	Chunks      int      `json:"chunks"`
	ResponseIDs []string `json:"response_ids"`
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Load argument responses and evidence from a YAML or JSON file",
		Long: `Load argument responses and evidence chunks into the configured store.

Responses without an id get a generated one; missing synthesis_status
defaults to pending and missing created_at to the import time. Evidence is
keyed by session id and replaces any evidence already stored for it.

Examples:
  verdictd import fixtures.yaml
  cat fixtures.json | verdictd import -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFixture(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			fx, err := parseFixture(data, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("invalid fixture %s: %w", args[0], err)
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				report, err := importFixture(cmd.Context(), a.store, fx)
				if err != nil {
					return err
				}
				a.logger.Info(cmd.Context(), "fixture imported",
					zap.Int("responses", report.Responses),
					zap.Int("sessions", report.Sessions))
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func readFixture(stdin io.Reader, path string) ([]byte, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open fixture: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxFixtureBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	if len(data) > maxFixtureBytes {
		return nil, fmt.Errorf("fixture exceeds %d bytes", maxFixtureBytes)
	}
	return data, nil
}

// parseFixture decodes and normalizes a fixture. Unknown keys are rejected.
func parseFixture(data []byte, now time.Time) (*fixture, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var fx fixture
	if err := dec.Decode(&fx); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, err
	}
	if len(fx.Responses) == 0 && len(fx.Evidence) == 0 {
		return nil, errors.New("no responses or evidence")
	}

	seen := make(map[string]bool, len(fx.Responses))
	for i := range fx.Responses {
		r := &fx.Responses[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("responses[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		if !r.AgentType.Valid() {
			return nil, fmt.Errorf("responses[%d]: agent_type must be support or oppose, got %q", i, r.AgentType)
		}
		if r.SessionID == "" {
			return nil, fmt.Errorf("responses[%d]: session_id is required", i)
		}
		if r.SynthesisStatus == "" {
			r.SynthesisStatus = store.SynthesisPending
		}
		if r.CreatedAt.IsZero() {
			// Keep document order when listing newest first.
			r.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		}
	}

	for session, chunks := range fx.Evidence {
		for i, c := range chunks {
			if c.ID == "" {
				return nil, fmt.Errorf("evidence[%s][%d]: id is required", session, i)
			}
		}
	}
	return &fx, nil
}

func importFixture(ctx context.Context, st store.Store, fx *fixture) (ImportReport, error) {
	report := ImportReport{ResponseIDs: make([]string, 0, len(fx.Responses))}
	for i := range fx.Responses {
		r := fx.Responses[i]
		if err := st.PutResponse(ctx, &r); err != nil {
			return report, fmt.Errorf("failed to store response %s: %w", r.ID, err)
		}
		report.Responses++
		report.ResponseIDs = append(report.ResponseIDs, r.ID)
	}

	sessions := make([]string, 0, len(fx.Evidence))
	for s := range fx.Evidence {
		sessions = append(sessions, s)
	}
	sort.Strings(sessions)
	for _, s := range sessions {
		if err := st.PutEvidence(ctx, s, fx.Evidence[s]); err != nil {
			return report, fmt.Errorf("failed to store evidence for session %s: %w", s, err)
		}
		report.Sessions++
		report.Chunks += len(fx.Evidence[s])
	}
	return report, nil
}
