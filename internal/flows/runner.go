package flows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"labinsight/internal/domain"
	"labinsight/internal/integrations/llm"
)

// Recorder receives telemetry for every model invocation. Inputs and outputs
// are never passed to it.
type Recorder interface {
	RecordFlowRun(ctx context.Context, run domain.FlowRun) error
}

type RunnerOptions struct {
	Prompts   PromptSet
	Recorder  Recorder
	Logger    *logrus.Logger
	MaxTokens int64
}

// Runner holds what every flow invocation shares. It keeps no per-call
// state and is safe for concurrent use.
type Runner struct {
	model     llm.Model
	prompts   map[string]compiledPrompt
	validate  *validator.Validate
	recorder  Recorder
	logger    *logrus.Logger
	maxTokens int64
	now       func() time.Time
}

func NewRunner(model llm.Model, opts RunnerOptions) (*Runner, error) {
	prompts := opts.Prompts
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	compiled, err := prompts.compile()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		model:     model,
		prompts:   compiled,
		validate:  newValidator(),
		recorder:  opts.Recorder,
		logger:    logger,
		maxTokens: opts.MaxTokens,
		now:       time.Now,
	}, nil
}

// ModelName is the provider model used for every flow.
func (r *Runner) ModelName() string {
	return r.model.Name()
}

// Run executes one flow: validate input, render prompt, call the model
// exactly once, then decode and validate the output. Model faults surface as
// *domain.ModelInvocationError and anything wrong with the input or the
// output as *domain.SchemaViolation.
func Run[In, Out any](ctx context.Context, r *Runner, flow Flow[In, Out], in In) (Out, error) {
	var zero Out
	name := flow.Name()

	if err := r.validate.Struct(in); err != nil {
		return zero, &domain.SchemaViolation{Flow: name, Stage: domain.StageInput, Reason: "input does not match schema", Err: err}
	}

	prompt, ok := r.prompts[name]
	if !ok {
		return zero, fmt.Errorf("flow %s: no prompt registered", name)
	}
	system, user, err := prompt.render(in)
	if err != nil {
		return zero, &domain.SchemaViolation{Flow: name, Stage: domain.StageInput, Reason: "prompt render failed", Err: err}
	}

	started := r.now()
	resp, err := r.model.Generate(ctx, llm.Request{
		System:     system,
		User:       user,
		MaxTokens:  r.maxTokens,
		JSONOutput: true,
	})
	run := domain.FlowRun{
		Flow:                name,
		Provider:            r.model.Provider(),
		Model:               r.model.Name(),
		InputTokens:         resp.Usage.InputTokens,
		OutputTokens:        resp.Usage.OutputTokens,
		CacheCreationTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadTokens:     resp.Usage.CacheReadInputTokens,
		Duration:            r.now().Sub(started),
		RanAt:               started,
	}
	if resp.Model != "" {
		run.Model = resp.Model
	}
	if err != nil {
		run.Outcome = domain.OutcomeModelError
		run.Error = err.Error()
		r.record(ctx, run)
		return zero, &domain.ModelInvocationError{Flow: name, Provider: r.model.Provider(), Err: err}
	}

	out, err := decodeOutput[Out](r.validate, name, resp.Text)
	if err != nil {
		run.Outcome = domain.OutcomeSchemaViolation
		run.Error = err.Error()
		r.record(ctx, run)
		return zero, err
	}

	run.Outcome = domain.OutcomeOK
	r.record(ctx, run)
	return out, nil
}

func decodeOutput[Out any](v *validator.Validate, flow, text string) (Out, error) {
	var out Out
	body := stripCodeFence(text)
	if body == "" || body == "null" {
		return out, &domain.SchemaViolation{Flow: flow, Stage: domain.StageOutput, Reason: "model returned no output"}
	}
	if err := decodeObject([]byte(body), &out, false); err != nil {
		return out, &domain.SchemaViolation{Flow: flow, Stage: domain.StageOutput, Reason: "output is not valid JSON for schema", Err: err}
	}
	if err := v.Struct(out); err != nil {
		return out, &domain.SchemaViolation{Flow: flow, Stage: domain.StageOutput, Reason: "output does not match schema", Err: err}
	}
	return out, nil
}

var errTrailingData = errors.New("trailing data after JSON object")

// decodeObject decodes one JSON object into dst, binding keys only by their
// exact json names. Unknown keys are dropped, or rejected when strict.
func decodeObject(body []byte, dst any, strict bool) error {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&fields); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errTrailingData
	}

	known := jsonFieldNames(reflect.TypeOf(dst).Elem())
	for key := range fields {
		if known[key] {
			continue
		}
		if strict {
			return fmt.Errorf("unknown field %q", key)
		}
		delete(fields, key)
	}
	exact, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(exact, dst)
}

func jsonFieldNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool)
	if t.Kind() != reflect.Struct {
		return names
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names[name] = true
	}
	return names
}

// stripCodeFence removes a surrounding markdown code fence, which models add
// even when asked for bare JSON.
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (r *Runner) record(ctx context.Context, run domain.FlowRun) {
	entry := r.logger.WithFields(logrus.Fields{
		"flow":       run.Flow,
		"provider":   run.Provider,
		"model":      run.Model,
		"outcome":    run.Outcome,
		"tokens_in":  run.InputTokens,
		"tokens_out": run.OutputTokens,
		"cache_read": run.CacheReadTokens,
		"duration":   run.Duration.Round(time.Millisecond).String(),
	})
	if run.Outcome == domain.OutcomeOK {
		entry.Info("flow run")
	} else {
		entry.Warn("flow run failed")
	}
	if r.recorder == nil {
		return
	}
	// Telemetry must outlive a cancelled request context.
	if err := r.recorder.RecordFlowRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.WithError(err).Warn("flow telemetry insert failed")
	}
}

type invoker func(ctx context.Context, r *Runner, input json.RawMessage) (any, error)

func invokerFor[In, Out any](flow Flow[In, Out]) invoker {
	return func(ctx context.Context, r *Runner, input json.RawMessage) (any, error) {
		var in In
		if err := decodeObject(input, &in, true); err != nil {
			return nil, &domain.SchemaViolation{Flow: flow.Name(), Stage: domain.StageInput, Reason: "input is not valid JSON for schema", Err: err}
		}
		return Run(ctx, r, flow, in)
	}
}

var invokers = map[string]invoker{
	ExplainFlowName: invokerFor(Explain),
	SummaryFlowName: invokerFor(Summarize),
	RiskFlowName:    invokerFor(AssessRisk),
}

// ErrUnknownFlow is returned by RunByName for a name outside the registry.
var ErrUnknownFlow = errors.New("unknown flow")

// RunByName decodes a JSON input for the named flow and runs it.
func (r *Runner) RunByName(ctx context.Context, name string, input json.RawMessage) (any, error) {
	inv, ok := invokers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, name)
	}
	return inv(ctx, r, input)
}
