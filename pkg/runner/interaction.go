package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/markdownflow/flowrun/pkg/events"
	"github.com/markdownflow/flowrun/pkg/llm"
	"github.com/markdownflow/flowrun/pkg/mdflow"
	"github.com/markdownflow/flowrun/pkg/models"
)

const defaultRejectionFeedback = "Please try answering again."

// handleInteraction presents, re-asks, or settles the prompt at the cursor.
func (r *Runner) handleInteraction(ctx context.Context, emit func(events.RunEvent), block mdflow.Block) error {
	ia := block.Interaction
	position := r.progress.BlockPosition

	// 1. System buttons resolve against engine state instead of recording
	// an answer, and their prompts are never persisted.
	if ia.HasSystemButton(mdflow.SysButtonPay) {
		paid := r.params.Preview
		if !paid {
			var err error
			if paid, err = r.hasPaid(ctx); err != nil {
				return err
			}
		}
		return r.settleGate(ctx, emit, block, paid)
	}
	if ia.HasSystemButton(mdflow.SysButtonLogin) {
		ok := r.params.Preview || (r.user != nil && r.user.Mobile != "")
		return r.settleGate(ctx, emit, block, ok)
	}

	// 2. First arrival persists the prompt so reloads and history see it.
	row, err := r.deps.Blocks.LatestActiveInteraction(ctx, r.progress.ProgressRecordBID, position)
	if err != nil {
		return err
	}
	if row == nil {
		row = r.newBlockRow(models.GeneratedTypeInteraction, models.RoleTeacher, position, block.Content, "")
		if err := r.deps.Tx.Step(ctx, func(s StepStores) error {
			return s.Blocks.Append(ctx, row)
		}); err != nil {
			return err
		}
		r.runType = runInput
		r.canContinue = false
		emit(r.event(events.TypeInteraction, row.GeneratedBlockBID, block.Content))
		return nil
	}

	// 3. A call without input re-asks; refreshed clients land here.
	if r.inputType != InputTypeNormal || r.input.IsEmpty() {
		r.runType = runInput
		r.canContinue = false
		emit(r.event(events.TypeInteraction, row.GeneratedBlockBID, row.BlockContentConf))
		return nil
	}

	// 4. Record and settle the submission.
	return r.settleAnswer(ctx, emit, block, row)
}

// settleGate resolves a pay or login button in authored flow: satisfied
// gates advance the cursor silently, unsatisfied ones re-ask.
func (r *Runner) settleGate(ctx context.Context, emit func(events.RunEvent), block mdflow.Block, satisfied bool) error {
	if satisfied {
		return r.advance(ctx)
	}
	r.runType = runInput
	r.canContinue = false
	emit(r.event(events.TypeInteraction, "", block.Content))
	return nil
}

// settleAnswer records the learner's submission, screens it, and either
// advances the cursor or walks the retry path.
func (r *Runner) settleAnswer(ctx context.Context, emit func(events.RunEvent), block mdflow.Block, row *models.LearnGeneratedBlock) error {
	// 1. Normalise the payload onto the declared variable and persist the
	// submission on the active prompt row.
	values := r.normalizedInput(block)
	answer := answerString(r.input, values)
	if err := r.deps.Tx.Step(ctx, func(s StepStores) error {
		return s.Blocks.RecordAnswer(ctx, row.GeneratedBlockBID, answer)
	}); err != nil {
		return err
	}

	// 2. Moderation feedback streams to the learner and re-asks the prompt.
	rejected, err := r.moderate(ctx, emit, row, answer)
	if err != nil {
		return err
	}
	if rejected {
		r.runType = runInput
		r.canContinue = false
		emit(r.event(events.TypeInteraction, row.GeneratedBlockBID, row.BlockContentConf))
		return nil
	}

	// 3. A prompt with no declared variable is informational; any answer
	// advances.
	if block.Interaction.Variable == "" {
		return r.advance(ctx)
	}

	// 4. Extract the variable, or collect feedback explaining the rejection.
	outcome, err := r.completeInteraction(ctx, block, values)
	if err != nil {
		return err
	}
	if len(outcome.Variables) > 0 {
		if err := r.storeVariables(ctx, outcome.Variables); err != nil {
			return err
		}
		for _, name := range sortedKeys(outcome.Variables) {
			emit(r.event(events.TypeVariableUpdate, row.GeneratedBlockBID, events.VariableUpdate{
				VariableName:  name,
				VariableValue: outcome.Variables[name],
			}))
		}
		return r.advance(ctx)
	}
	return r.rejectAnswer(ctx, emit, block, row, outcome.Feedback)
}

// rejectAnswer walks the validation-failure path: an error-message row whose
// text streams to the learner, then a fresh prompt row for the retry. The
// answered row re-types to a plain answer so the fresh prompt is the only
// active interaction at the position.
func (r *Runner) rejectAnswer(ctx context.Context, emit func(events.RunEvent), block mdflow.Block, row *models.LearnGeneratedBlock, feedback string) error {
	if strings.TrimSpace(feedback) == "" {
		feedback = defaultRejectionFeedback
	}
	position := r.progress.BlockPosition
	errRow := r.newBlockRow(models.GeneratedTypeErrorMessage, models.RoleTeacher, position, block.Content, feedback)
	fresh := r.newBlockRow(models.GeneratedTypeInteraction, models.RoleTeacher, position, block.Content, "")
	err := r.deps.Tx.Step(ctx, func(s StepStores) error {
		if err := s.Blocks.MarkAnswered(ctx, row.GeneratedBlockBID); err != nil {
			return err
		}
		if err := s.Blocks.Append(ctx, errRow); err != nil {
			return err
		}
		return s.Blocks.Append(ctx, fresh)
	})
	if err != nil {
		return err
	}

	emit(r.event(events.TypeContent, errRow.GeneratedBlockBID, feedback))
	emit(r.event(events.TypeBreak, errRow.GeneratedBlockBID, ""))
	emit(r.event(events.TypeInteraction, fresh.GeneratedBlockBID, block.Content))
	r.runType = runInput
	r.canContinue = false
	return nil
}

// moderate streams moderation feedback when the submission is rejected. The
// caller re-asks the prompt afterwards.
func (r *Runner) moderate(ctx context.Context, emit func(events.RunEvent), row *models.LearnGeneratedBlock, answer string) (bool, error) {
	if r.deps.Moderator == nil || answer == "" {
		return false, nil
	}
	feedback, err := r.deps.Moderator.CheckText(ctx, r.params.UserBID, answer)
	if err != nil {
		return false, fmt.Errorf("failed to check text: %w", err)
	}
	rejected := false
	for chunk := range feedback {
		if chunk == "" {
			continue
		}
		rejected = true
		emit(r.event(events.TypeContent, row.GeneratedBlockBID, chunk))
	}
	if rejected {
		emit(r.event(events.TypeBreak, row.GeneratedBlockBID, ""))
		slog.Info("Submission rejected by moderation",
			"user_bid", r.params.UserBID,
			"outline_bid", r.params.OutlineBID)
	}
	return rejected, nil
}

// normalizedInput maps the call's payload onto the block's declared
// variable: a plain string binds to it, a map keeps its keys. Empty strings
// are dropped; whitespace survives so validation can reject it.
func (r *Runner) normalizedInput(block mdflow.Block) map[string][]string {
	values := make(map[string][]string)
	if len(r.input.Values) > 0 {
		for k, vals := range r.input.Values {
			var kept []string
			for _, v := range vals {
				if v != "" {
					kept = append(kept, v)
				}
			}
			if len(kept) > 0 {
				values[k] = kept
			}
		}
		return values
	}
	if r.input.Text != "" && block.Interaction.Variable != "" {
		values[block.Interaction.Variable] = []string{r.input.Text}
	}
	return values
}

// answerString flattens the normalised input for persistence: list values
// join with commas.
func answerString(in Input, values map[string][]string) string {
	if len(values) == 0 {
		return in.Text
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, strings.Join(values[k], ","))
	}
	return strings.Join(parts, ",")
}

// completionOutcome is what settling one answer produces: extracted
// variables, or feedback when the answer fails validation.
type completionOutcome struct {
	Variables map[string]string `json:"variables"`
	Feedback  string            `json:"feedback"`
}

const completeSystemPrompt = `You validate a learner's answer to one question and extract the requested variable. Respond with compact JSON only: {"variables":{"<name>":"<value>"}} when the answer is usable, or {"variables":{},"feedback":"<one short sentence telling the learner what to fix>"} when it is not. Feedback must be in the language of the question.`

// completeInteraction settles the answer against the declared variable.
// Button sets match locally; free-text questions go through the model.
func (r *Runner) completeInteraction(ctx context.Context, block mdflow.Block, values map[string][]string) (*completionOutcome, error) {
	ia := block.Interaction
	submitted := values[ia.Variable]

	if len(submitted) == 0 {
		return &completionOutcome{Feedback: defaultRejectionFeedback}, nil
	}

	// Button values are authored; an exact match needs no model call.
	if len(ia.Buttons) > 0 {
		for _, v := range submitted {
			for _, b := range ia.Buttons {
				if b.Value == v || b.Label == v {
					return &completionOutcome{Variables: map[string]string{ia.Variable: b.Value}}, nil
				}
			}
		}
		return &completionOutcome{Feedback: "Please pick one of the offered options."}, nil
	}

	model, temperature := r.resolveLLMSettings()
	var sb strings.Builder
	if ia.Question != "" {
		fmt.Fprintf(&sb, "Question: %s\n", ia.Question)
	}
	fmt.Fprintf(&sb, "Variable: %s\n", ia.Variable)
	fmt.Fprintf(&sb, "Answer: %s\n", strings.Join(submitted, ", "))

	result, err := r.deps.LLM.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: completeSystemPrompt},
			{Role: llm.RoleUser, Content: sb.String()},
		},
		Model:       model,
		Temperature: temperature,
		Meter:       r.meter(""),
	})
	if err != nil {
		return nil, err
	}
	return parseCompletion(result.Content), nil
}

// parseCompletion decodes the model's verdict, tolerating fenced or prefixed
// JSON. Unparseable replies become learner feedback, so a chatty model
// degrades to a retry instead of an error.
func parseCompletion(content string) *completionOutcome {
	if raw := extractJSONObject(content); raw != "" {
		var outcome completionOutcome
		if err := json.Unmarshal([]byte(raw), &outcome); err == nil {
			for k, v := range outcome.Variables {
				if strings.TrimSpace(v) == "" {
					delete(outcome.Variables, k)
				}
			}
			return &outcome
		}
	}
	return &completionOutcome{Feedback: strings.TrimSpace(content)}
}

// extractJSONObject returns the first balanced {...} span of the text.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// storeVariables merges accepted variables into the learner profile.
func (r *Runner) storeVariables(ctx context.Context, vars map[string]string) error {
	if r.deps.Profile == nil {
		return nil
	}
	if err := r.deps.Profile.SetVariables(ctx, r.params.UserBID, r.params.ShifuBID, vars); err != nil {
		return fmt.Errorf("failed to store learner variables: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
