// Package hook implements the pre/post tool-use protocol that recalls similar
// past code before a write and remembers code after it.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/afterimage/internal/churn"
	"github.com/rcliao/afterimage/internal/embedding"
	"github.com/rcliao/afterimage/internal/filter"
	"github.com/rcliao/afterimage/internal/search"
	"github.com/rcliao/afterimage/internal/store"
)

const (
	EventPreToolUse  = "PreToolUse"
	EventPostToolUse = "PostToolUse"

	ToolWrite = "Write"
	ToolEdit  = "Edit"
)

// Input is the JSON document the host writes to stdin.
type Input struct {
	HookEventName string    `json:"hook_event_name"`
	ToolName      string    `json:"tool_name"`
	SessionID     string    `json:"session_id,omitempty"`
	ToolInput     ToolInput `json:"tool_input"`
}

type ToolInput struct {
	FilePath  string `json:"file_path"`
	Content   string `json:"content,omitempty"`
	OldString string `json:"old_string,omitempty"`
	NewString string `json:"new_string,omitempty"`
}

// Output is written to stdout only when the write should be denied.
type Output struct {
	HookSpecificOutput SpecificOutput `json:"hookSpecificOutput"`
}

type SpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason"`
}

// BackendSource yields the process backend on demand.
type BackendSource interface {
	Backend(ctx context.Context) (store.Backend, error)
}

// Options tunes the advisory.
type Options struct {
	SearchLimit     int
	SearchThreshold float64
	MaxExcerpts     int
	ExcerptChars    int
	FTSWeight       float64
	SemanticWeight  float64
}

// Handler processes one hook event at a time. Its own failures never block
// the host: they are logged and the event is allowed.
type Handler struct {
	backends   BackendSource
	embedder   embedding.Embedder
	filter     *filter.CodeFilter
	ledger     *Ledger
	thresholds churn.Thresholds
	opts       Options
	log        zerolog.Logger
	now        func() time.Time
}

// NewHandler wires a handler. A nil embedder stores without vectors and
// searches lexically.
func NewHandler(backends BackendSource, e embedding.Embedder, f *filter.CodeFilter, ledger *Ledger,
	th churn.Thresholds, opts Options, log zerolog.Logger) *Handler {
	if opts.FTSWeight == 0 && opts.SemanticWeight == 0 {
		opts.FTSWeight, opts.SemanticWeight = search.DefaultFTSWeight, search.DefaultSemanticWeight
	}
	return &Handler{
		backends:   backends,
		embedder:   e,
		filter:     f,
		ledger:     ledger,
		thresholds: th,
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

// Run reads one event from r and writes a deny decision to w if one is
// produced. Malformed input is ignored.
func (h *Handler) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		h.log.Debug().Err(err).Msg("ignoring malformed hook input")
		return nil
	}
	out := h.Handle(ctx, in)
	if out == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(out)
}

// Handle processes a decoded event. A nil result means allow.
func (h *Handler) Handle(ctx context.Context, in Input) *Output {
	if in.ToolName != ToolWrite && in.ToolName != ToolEdit {
		return nil
	}
	if in.ToolInput.FilePath == "" {
		return nil
	}

	switch in.HookEventName {
	case EventPreToolUse:
		return h.pre(ctx, in)
	case EventPostToolUse:
		h.post(ctx, in)
	}
	return nil
}

func (h *Handler) pre(ctx context.Context, in Input) *Output {
	filePath := in.ToolInput.FilePath
	content := in.ToolInput.Content
	if content == "" {
		content = in.ToolInput.NewString
	}
	if content == "" {
		return nil
	}

	hash := ContentHash(filePath, content)
	if h.ledger.Seen(hash) {
		h.log.Debug().Str("file", filePath).Msg("advisory already shown")
		return nil
	}

	b, err := h.backends.Backend(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("no backend, skipping advisory")
		return nil
	}

	var sections []string
	tracker := churn.NewTracker(b, h.thresholds, h.log)
	if warning, err := tracker.Warning(ctx, filePath, content); err != nil {
		h.log.Warn().Err(err).Str("file", filePath).Msg("churn check failed")
	} else if warning != "" {
		sections = append(sections, warning)
	}

	if h.filter.IsCode(filePath, content) {
		if advisory := h.similar(ctx, b, filePath, content); advisory != "" {
			sections = append(sections, advisory)
		}
	}

	if len(sections) == 0 {
		return nil
	}

	// Without a ledger entry the retry would be denied again.
	if err := h.ledger.Mark(ctx, hash); err != nil {
		h.log.Warn().Err(err).Str("ledger", h.ledger.Path()).Msg("could not record advisory, allowing write")
		return nil
	}

	return &Output{HookSpecificOutput: SpecificOutput{
		HookEventName:            EventPreToolUse,
		PermissionDecision:       "deny",
		PermissionDecisionReason: strings.Join(sections, "\n"),
	}}
}

func (h *Handler) similar(ctx context.Context, b store.Backend, filePath, content string) string {
	terms := ExtractTerms(content, filePath)
	if len(terms) == 0 {
		return ""
	}

	ranker := search.NewRanker(b, h.embedder, h.log)
	ranker.FTSWeight = h.opts.FTSWeight
	ranker.SemanticWeight = h.opts.SemanticWeight

	results, err := ranker.Search(ctx, strings.Join(terms, " OR "), search.Options{
		Limit:              h.opts.SearchLimit,
		Threshold:          h.opts.SearchThreshold,
		IncludeLexicalOnly: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("file", filePath).Msg("similar code search failed")
		return ""
	}
	return FormatAdvisory(string(b.Kind()), results, h.opts.MaxExcerpts, h.opts.ExcerptChars)
}

func (h *Handler) post(ctx context.Context, in Input) {
	filePath := in.ToolInput.FilePath
	var newCode, oldCode string
	switch in.ToolName {
	case ToolWrite:
		newCode = in.ToolInput.Content
	case ToolEdit:
		newCode = in.ToolInput.NewString
		oldCode = in.ToolInput.OldString
	}
	if newCode == "" {
		return
	}

	b, err := h.backends.Backend(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("no backend, skipping store")
		return
	}

	if h.filter.IsCode(filePath, newCode) {
		vec, err := embedding.EmbedCode(ctx, h.embedder, newCode, filePath, "")
		if err != nil {
			h.log.Debug().Err(err).Msg("storing without embedding")
		}
		id, err := b.Store(ctx, store.StoreParams{
			FilePath:  filePath,
			NewCode:   newCode,
			OldCode:   oldCode,
			SessionID: h.sessionID(in),
			Embedding: vec,
		})
		if err != nil {
			h.log.Warn().Err(err).Str("file", filePath).Msg("store failed")
		} else {
			h.log.Info().Str("id", id).Str("file", filePath).Str("backend", string(b.Kind())).Msg("stored")
		}
	}

	tracker := churn.NewTracker(b, h.thresholds, h.log)
	if _, err := tracker.RecordEdit(ctx, filePath, newCode); err != nil {
		h.log.Warn().Err(err).Str("file", filePath).Msg("churn record failed")
	}
}

func (h *Handler) sessionID(in Input) string {
	if in.SessionID != "" {
		return in.SessionID
	}
	if id := os.Getenv("CLAUDE_SESSION_ID"); id != "" {
		return id
	}
	return fmt.Sprintf("session_%s", h.now().UTC().Format("20060102_150405"))
}
