// Package executor implements the Step Executor: the operation that
// runs exactly one step end to end — assemble its prompt, claim it,
// call the gateway, parse the reply, and commit the extracted atoms.
//
// It is grounded on the load-advance-save shape of
// internal/tools/change_advance.go's stage-advancement workhorse, and
// on original_source/src/llm.rs's per-phase agents for the step-kind
// instruction split — collapsed here into one small instruction table
// instead of nine separate model agents, since this system makes one
// model call per step regardless of kind.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kbarone/raidme/internal/gateway"
	"github.com/kbarone/raidme/internal/promptbuilder"
	"github.com/kbarone/raidme/internal/repoview"
	"github.com/kbarone/raidme/internal/store"
)

// Config bounds how an Executor builds raw step data and drives the gateway.
type Config struct {
	Preamble        string
	DeadlineSeconds int
	MaxParseRetries int
	FileHeadBytes   int
	DirPayloadBytes int
	DocsMaxCount    int
	DocsMaxBytes    int64
}

// Executor runs steps against a Store, a RepoView, a prompt Builder,
// and a Gateway.
type Executor struct {
	store   *store.Store
	view    *repoview.RepoView
	builder *promptbuilder.Builder
	gw      *gateway.Gateway
	cfg     Config
}

// New creates an Executor wired to its collaborators.
func New(st *store.Store, view *repoview.RepoView, builder *promptbuilder.Builder, gw *gateway.Gateway, cfg Config) *Executor {
	return &Executor{store: st, view: view, builder: builder, gw: gw, cfg: cfg}
}

// Execute runs step to completion: build → claim → call → parse → commit.
// It returns the classified error on any failure; the caller (Session
// Controller) is responsible for stopping the run loop on error.
func (e *Executor) Execute(ctx context.Context, step store.Step) error {
	sess, err := e.store.SessionByID(ctx, step.SessionID)
	if err != nil {
		return fmt.Errorf("executor: load session: %w", err)
	}

	atoms, err := e.store.AtomsFor(ctx, step.SessionID, nil)
	if err != nil {
		return fmt.Errorf("executor: load context snapshot: %w", err)
	}

	rawData, err := e.buildRawData(ctx, step, sess)
	if err != nil {
		_ = e.store.StepFail(ctx, step.ID, err.Error())
		return fmt.Errorf("executor: build raw data: %w", err)
	}

	instruction := kindInstruction(step.Kind, step.Key)
	prompt := e.builder.Build(e.cfg.Preamble, instruction, rawData, atoms)
	inputData := promptbuilder.InputFingerprintPayload(rawData, prompt.SelectedAtomID)
	fingerprint := store.Fingerprint(step.ID, inputData)

	if _, err := e.store.StepClaim(ctx, step.ID, fingerprint, inputData); err != nil {
		return err
	}

	deadline := time.Duration(e.cfg.DeadlineSeconds) * time.Second
	text := prompt.Text

	var env Envelope
	var outputText string
	var parseErr error

	for attempt := 0; attempt <= e.cfg.MaxParseRetries; attempt++ {
		reply, err := e.gw.Complete(ctx, text, fingerprint, deadline)
		if err != nil {
			_ = e.store.StepFail(ctx, step.ID, err.Error())
			return fmt.Errorf("executor: gateway call: %w", err)
		}

		env, parseErr = ParseEnvelope(reply.Text)
		if parseErr == nil {
			outputText = reply.Text
			break
		}

		if attempt < e.cfg.MaxParseRetries {
			text = text + "\n\n" + repairInstruction(parseErr)
		}
	}

	if parseErr != nil {
		_ = e.store.StepFail(ctx, step.ID, parseErr.Error())
		return fmt.Errorf("executor: %w", parseErr)
	}

	return e.store.StepComplete(ctx, step.ID, outputText, env.toAtoms(step.SessionID))
}

func repairInstruction(err error) string {
	var malformed *ErrMalformedEnvelope
	reason := err.Error()
	if errors.As(err, &malformed) {
		reason = malformed.Reason
	}
	return fmt.Sprintf("Your previous reply could not be parsed (%s). Reply again with exactly one JSON object matching the schema, no surrounding prose.", reason)
}

// buildRawData assembles a step's raw input section from the repo
// view or the session's stored hints, depending on kind.
func (e *Executor) buildRawData(ctx context.Context, step store.Step, sess store.Session) (string, error) {
	switch step.Kind {
	case store.KindGlobalHints:
		return sess.Hints, nil

	case store.KindRootFiles:
		files, err := e.view.ListRootFiles(ctx)
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		for _, f := range files {
			text, err := e.view.ReadText(ctx, f.Path, e.cfg.FileHeadBytes)
			if err != nil {
				continue
			}
			fmt.Fprintf(&sb, "=== %s (%s) ===\n%s\n\n", f.Path, humanize.Bytes(uint64(f.Size)), text)
		}
		return sb.String(), nil

	case store.KindDocs:
		docs, err := e.view.ListDocs(ctx, e.cfg.DocsMaxCount, e.cfg.DocsMaxBytes)
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		for _, f := range docs {
			text, err := e.view.ReadText(ctx, f.Path, e.cfg.FileHeadBytes)
			if err != nil {
				continue
			}
			fmt.Fprintf(&sb, "=== %s (%s) ===\n%s\n\n", f.Path, humanize.Bytes(uint64(f.Size)), text)
		}
		return sb.String(), nil

	case store.KindDirLevel:
		depth, err := strconv.Atoi(step.Key)
		if err != nil {
			return "", fmt.Errorf("dir_level key %q: %w", step.Key, err)
		}
		var dirs []string
		err = e.view.WalkLevels(ctx, depth, func(d int, found []string) error {
			if d == depth {
				dirs = found
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("depth %d directories: %s", depth, strings.Join(dirs, ", ")), nil

	case store.KindDirNode:
		summary, err := e.view.DescribeDir(ctx, step.Key, e.cfg.FileHeadBytes, e.cfg.DirPayloadBytes)
		if err != nil {
			return "", err
		}
		return renderDirSummary(summary), nil

	case store.KindDiagrams, store.KindFinalize:
		return "", nil

	default:
		return "", fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

func renderDirSummary(d repoview.DirSummary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "directory: %s\n", d.Path)
	fmt.Fprintf(&sb, "subdirectories: %s\n", strings.Join(d.Dirs, ", "))
	fmt.Fprintf(&sb, "file count: %d\n\n", d.FileCount)
	for _, f := range d.Files {
		if f.Binary {
			fmt.Fprintf(&sb, "- %s (%s, binary)\n", f.Name, humanize.Bytes(uint64(f.Size)))
			continue
		}
		fmt.Fprintf(&sb, "=== %s (%s) ===\n%s\n\n", f.Name, humanize.Bytes(uint64(f.Size)), f.Head)
	}
	return sb.String()
}

// kindInstruction returns the fixed, step-kind-specific instruction
// text appended after the rolling context in every prompt.
func kindInstruction(kind store.Kind, key string) string {
	switch kind {
	case store.KindGlobalHints:
		return "Use the user-supplied hints below to orient the analysis. Emit initial overview atoms capturing the stated focus."
	case store.KindRootFiles:
		return "Analyze the root-level files below (README, manifests, license, configuration). Emit overview and convention atoms."
	case store.KindDocs:
		return "Analyze the documentation content below. Emit structure, interface, and convention atoms, avoiding duplication of the existing context."
	case store.KindDirLevel:
		return fmt.Sprintf("Summarize the directory names at this level (depth %s) as a whole: naming patterns, apparent responsibilities. Emit structure atoms.", key)
	case store.KindDirNode:
		return fmt.Sprintf("Analyze the contents of directory %q below. Emit component and dataflow atoms describing its role.", key)
	case store.KindDiagrams:
		return "Using the accumulated context, emit deployment-category atoms whose content is Mermaid diagram source blocks describing architecture, data flow, and deployment topology."
	case store.KindFinalize:
		return "No further atoms are required. Emit a single overview atom summarizing readiness for synthesis."
	default:
		return ""
	}
}
